package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// hs256SecretBytes matches the minimum the jwt package accepts.
const hs256SecretBytes = 32

// NewKeygenCmd creates the keygen subcommand.
func NewKeygenCmd() *cobra.Command {
	var (
		method string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate JWT signing keys",
		Long: `Generate a signing key for the jwt section. hs256 prints a random
shared secret; ed25519 writes PKCS8/PKIX PEM files into --out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch method {
			case "hs256":
				secret, err := newSecret(rand.Reader)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), secret)
				return err
			case "ed25519":
				priv, pub, err := newEd25519PEM(rand.Reader)
				if err != nil {
					return err
				}
				return writeKeyPair(cmd, outDir, priv, pub)
			default:
				return oops.Code("CONFIG_INVALID").Errorf("unsupported signing method %q", method)
			}
		},
	}
	cmd.Flags().StringVar(&method, "method", "hs256", "signing method: hs256 or ed25519")
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for ed25519 key files")
	return cmd
}

// newSecret returns a URL-safe secret of at least hs256SecretBytes bytes.
func newSecret(r io.Reader) (string, error) {
	buf := make([]byte, hs256SecretBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", oops.Code("KEYGEN_FAILED").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newEd25519PEM(r io.Reader) (priv, pub []byte, err error) {
	publicKey, privateKey, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, nil, oops.Code("KEYGEN_FAILED").Wrap(err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, oops.Code("KEYGEN_FAILED").Wrap(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, nil, oops.Code("KEYGEN_FAILED").Wrap(err)
	}
	priv = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pub = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return priv, pub, nil
}

func writeKeyPair(cmd *cobra.Command, dir string, priv, pub []byte) error {
	privPath := filepath.Join(dir, "jwt_ed25519.pem")
	pubPath := filepath.Join(dir, "jwt_ed25519.pub.pem")
	if err := os.WriteFile(privPath, priv, 0o600); err != nil {
		return oops.Code("KEYGEN_FAILED").With("path", privPath).Wrap(err)
	}
	if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
		return oops.Code("KEYGEN_FAILED").With("path", pubPath).Wrap(err)
	}
	cmd.Printf("Wrote %s and %s\n", privPath, pubPath)
	return nil
}
