package cmd

import (
	"bytes"
	"testing"
)

// executeCommand runs the root command with args, resetting the flag
// variables a previous run may have set.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	resetFlags()

	var out, errOut bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	err = rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func resetFlags() {
	verbose = false
	configPath = ""

	runPlatforms, runCategories = nil, nil
	runFormat, runOutputDir, runID = "", "", ""
	runStdout = false

	itemsPlatform = ""
	itemsFailed = false

	cacheClearPlatform = ""

	reconcileEvents, reconcileMailbox, reconcileItem = "", "", ""
	reconcilePlatform = "offline"
	reconcileParticipants = nil
	reconcileFormat = "md"
	reconcileWindow = 0
}
