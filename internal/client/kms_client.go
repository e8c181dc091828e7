package client

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

// NewKMSClient builds the AWS KMS client used for envelope encryption of
// stored API-key secrets. Returns nil when KMS is disabled; the
// encryption layer then falls back to the local server secret.
func NewKMSClient(cfg *config.Config) (*kms.Client, error) {
	if !cfg.KMS.Enabled {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	util.Info("KMS client initialized",
		zap.String("region", cfg.KMS.Region),
		zap.String("key_id", cfg.KMS.KeyID),
	)
	return kms.NewFromConfig(awsCfg), nil
}
