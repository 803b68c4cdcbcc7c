//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
)

// Test runs the full test suite.
func Test() error {
	return runTool("go", "test", "./...")
}

// Vet runs static analysis over all packages.
func Vet() error {
	return runTool("go", "vet", "./...")
}

// Clean removes the built binary and the preview file left by interrupted
// sorting sessions.
func Clean() error {
	for _, path := range []string{"bin", "sorted_characters/.preview.png"} {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	fmt.Println("Cleaned.")
	return nil
}

func runTool(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}
