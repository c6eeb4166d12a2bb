package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/complyflow/complyflow/internal/domain/auth"
)

var hashKeySHA256 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Hash an API key for the config file",
	Long: `Hash an API key for use in the auth.keys[].key_hash config field.

The default output is an Argon2id PHC string. With --sha256 the output is
"sha256:<hex>", which is faster to verify but weaker against brute force.

Example:
  complyflow hash-key "my-secret-api-key"
  # Output: $argon2id$v=19$m=65536,t=1,p=...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  complyflow hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := hashAPIKey(args[0], hashKeySHA256)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeySHA256, "sha256", false, "emit a sha256:<hex> hash instead of Argon2id")
	rootCmd.AddCommand(hashKeyCmd)
}

func hashAPIKey(raw string, sha bool) (string, error) {
	if sha {
		return "sha256:" + auth.HashKey(raw), nil
	}
	hash, err := auth.HashKeyArgon2id(raw)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return hash, nil
}
