package aws_test

import (
	"context"
	"testing"

	// Packages
	sdk "github.com/aws/aws-sdk-go-v2/aws"
	aws "github.com/mutablelogic/go-relaypacs/pkg/aws"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func Test_Config_Region(t *testing.T) {
	assert := assert.New(t)
	cfg, err := aws.NewConfig(context.TODO(), aws.WithRegion("eu-west-2"))
	if assert.NoError(err) {
		assert.Equal("eu-west-2", cfg.Region)
	}
}

func Test_Config_StaticCredentials(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	cfg, err := aws.NewConfig(context.TODO(), aws.WithCredentials("AKID", "SECRET", ""))
	require.NoError(err)
	creds, err := cfg.Credentials.Retrieve(context.TODO())
	require.NoError(err)
	assert.Equal("AKID", creds.AccessKeyID)
	assert.Equal("SECRET", creds.SecretAccessKey)
}

func Test_Config_PartialCredentials(t *testing.T) {
	assert := assert.New(t)
	_, err := aws.NewConfig(context.TODO(), aws.WithCredentials("AKID", "", ""))
	assert.Error(err)
}

func Test_Config_Anonymous(t *testing.T) {
	assert := assert.New(t)
	cfg, err := aws.NewConfig(context.TODO(), aws.WithAnonymous(true))
	if assert.NoError(err) {
		assert.True(sdk.IsCredentialsProvider(cfg.Credentials, sdk.AnonymousCredentials{}))
	}
}
