package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/taskgate/internal/hooks"
)

func newSignCmd() *cobra.Command {
	var (
		secret    string
		file      string
		signature string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Compute or verify the X-Hook-Signature for a payload",
		Long:  "Reads the payload from --file or stdin. With --verify the command fails unless the signature matches.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("TASKGATE_HOOK_SECRET")
			}
			if secret == "" {
				return errors.New("a secret is required (--secret or TASKGATE_HOOK_SECRET)")
			}

			body, err := readPayload(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}

			if signature != "" {
				if !hooks.Verify(secret, body, signature) {
					return errors.New("signature mismatch")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "valid")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), hooks.Sign(secret, body))
			return nil
		},
	}

	cmd.Flags().StringVarP(&secret, "secret", "s", "", "Hook signing secret")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Payload file (default stdin)")
	cmd.Flags().StringVar(&signature, "verify", "", "Signature header value to verify")
	return cmd
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(stdin)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return b, nil
}
