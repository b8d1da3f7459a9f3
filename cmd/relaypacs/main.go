package main

import (
	"os"
	"os/user"
	"path/filepath"

	// Packages
	kong "github.com/alecthomas/kong"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type CLI struct {
	Globals
	ServerCommands
	TokenCommands
	UploadCommands
	VersionCommands
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func main() {
	var cli CLI
	parser := kong.Parse(&cli,
		kong.Name(execName()),
		kong.Description("DICOM ingestion gateway with resumable chunked uploads"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		vars(),
	)

	app, err := NewApp(cli.Globals, parser.Model.Vars())
	parser.FatalIfErrorf(err)
	defer app.Close()

	parser.FatalIfErrorf(parser.Run(app))
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// vars are interpolated into flag defaults
func vars() kong.Vars {
	result := kong.Vars{
		"USER":     "relaypacs",
		"CHUNKDIR": filepath.Join(os.TempDir(), "relaypacs", "chunks"),
	}
	if user, err := user.Current(); err == nil {
		result["USER"] = user.Username
	}
	return result
}

func execName() string {
	if name, err := os.Executable(); err == nil {
		return filepath.Base(name)
	}
	return "relaypacs"
}
