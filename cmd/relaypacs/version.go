package main

import (
	"fmt"

	// Packages
	version "github.com/mutablelogic/go-relaypacs/pkg/version"
)

type VersionCommands struct {
	Version VersionCommand `cmd:"" help:"Print version information"`
}

type VersionCommand struct{}

func (cmd *VersionCommand) Run(ctx *Globals) error {
	fmt.Println(string(version.JSON(execName())))
	return nil
}
