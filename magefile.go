//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
)

// Default target to run when none is specified
// If not set, running mage will list available targets
var Default = Build

func Build() error {
	mg.Deps(BuildFastcounter)
	fmt.Println("Compilation finished")
	return nil
}

func BuildFastcounter() error {
	fmt.Println("Building fastcounter executable...")
	return run("go", "build", "-o", "./bin/fastcounter", "./fastcounter")
}

// Test runs the unit tests with the race detector, which needs cgo.
func Test() error {
	fmt.Println("Running tests...")
	return run("go", "test", "-race", "./...")
}

func Clean() error {
	fmt.Println("Removing ./bin")
	return os.RemoveAll("./bin")
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
