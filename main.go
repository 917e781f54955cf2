package main

import "github.com/iksnae/review-sweep/cmd"

func main() {
	cmd.Execute()
}
