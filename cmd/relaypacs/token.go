package main

import (
	"fmt"
	"time"

	// Packages
	auth "github.com/mutablelogic/go-relaypacs/pkg/auth"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type TokenCommands struct {
	Token TokenCommand `cmd:"" group:"SERVER" help:"Mint an access credential"`
}

type TokenCommand struct {
	Owner  string        `arg:"" name:"owner" optional:"" default:"${USER}" help:"Owner of the credential"`
	Secret string        `name:"secret" env:"RELAYPACS_SECRET" required:"" help:"Credential signing key"`
	Issuer string        `name:"issuer" env:"RELAYPACS_ISSUER" default:"relaypacs" help:"Credential issuer"`
	TTL    time.Duration `name:"ttl" env:"RELAYPACS_ACCESS_TTL" default:"60m" help:"Lifetime of the credential"`
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

func (cmd *TokenCommand) Run(ctx *Globals) error {
	authority, err := auth.New(cmd.Secret, auth.WithIssuer(cmd.Issuer), auth.WithAccessTTL(cmd.TTL))
	if err != nil {
		return err
	}
	token, expires, err := authority.MintAccess(cmd.Owner)
	if err != nil {
		return err
	}
	if ctx.Debug {
		return prettyJSON(map[string]any{
			"owner":      cmd.Owner,
			"token":      token,
			"expires_at": expires,
		})
	}
	fmt.Println(token)
	return nil
}
