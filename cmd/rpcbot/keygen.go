package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rpcbot/internal/rpc/signer"
)

type keygenOptions struct {
	Out   string
	Bits  int
	Force bool
}

func newKeygenCmd() *cobra.Command {
	opts := keygenOptions{Out: "rpcbot", Bits: 2048}
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Write an RSA keypair (<out>.pem private, <out>.pub.pem public)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, pub, err := runKeygen(opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nwrote %s\n", priv, pub)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.Out, "out", "o", opts.Out, "Output path prefix")
	cmd.Flags().IntVar(&opts.Bits, "bits", opts.Bits, "RSA key size (minimum 2048)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite existing files")
	return cmd
}

func runKeygen(opts keygenOptions) (privPath, pubPath string, err error) {
	if opts.Out == "" {
		return "", "", errors.New("--out is required")
	}
	privPath, pubPath = opts.Out+".pem", opts.Out+".pub.pem"
	if !opts.Force {
		for _, p := range []string{privPath, pubPath} {
			if _, err := os.Stat(p); err == nil {
				return "", "", fmt.Errorf("%s exists (use --force to overwrite)", p)
			}
		}
	}
	_, privPEM, pubPEM, err := signer.GenerateKey(opts.Bits)
	if err != nil {
		return "", "", err
	}
	if dir := filepath.Dir(privPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", "", err
		}
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}
