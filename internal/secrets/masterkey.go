package secrets

import (
	"context"
	"encoding/base64"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	appconfig "admin-auth-service/internal/config"
	"admin-auth-service/internal/util"
)

// devMasterKey keeps local development working without any key
// provisioning. Production refuses to fall back to it.
const devMasterKey = "admin-auth-dev-only-master-key"

// ResolveMasterKey determines the secret-codec master key at startup.
// Preference order: KMS-decrypted ciphertext, plain environment value,
// development fallback.
func ResolveMasterKey(ctx context.Context, cfg *appconfig.Config) (string, error) {
	if cfg.KMS.Enabled {
		key, err := decryptWithKMS(ctx, cfg)
		if err != nil {
			return "", fmt.Errorf("kms master key resolution failed: %w", err)
		}
		return key, nil
	}

	if cfg.Auth.MasterKey != "" {
		return cfg.Auth.MasterKey, nil
	}

	if cfg.IsProduction() {
		return "", fmt.Errorf("no master key configured: set AUTH_MASTER_KEY or enable KMS")
	}

	util.Warn("Using development-only master key; secrets are NOT protected")
	return devMasterKey, nil
}

func decryptWithKMS(ctx context.Context, cfg *appconfig.Config) (string, error) {
	if cfg.KMS.MasterKeyCiphertext == "" {
		return "", fmt.Errorf("KMS_MASTER_KEY_CIPHERTEXT is not set")
	}

	blob, err := base64.StdEncoding.DecodeString(cfg.KMS.MasterKeyCiphertext)
	if err != nil {
		return "", fmt.Errorf("invalid master key ciphertext encoding: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
	if err != nil {
		return "", fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := kms.NewFromConfig(awsCfg)
	out, err := client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("kms decrypt failed: %w", err)
	}

	util.Info("Master key decrypted via KMS", util.String("key_id", cfg.KMS.KeyID))
	return string(out.Plaintext), nil
}
