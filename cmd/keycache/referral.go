package main

import (
	"fmt"

	"github.com/benaskins/keycache/internal/credential"
	"github.com/benaskins/keycache/internal/keychain"
	"github.com/benaskins/keycache/internal/store"
	"github.com/spf13/cobra"
)

var (
	keyPrivate  bool
	refKind     string
	refTarget   string
	refKeyLabel string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage unlock keys",
}

var keyAddCmd = &cobra.Command{
	Use:   "add <keychain> <label>",
	Short: "Add a symmetric (or private) key item; key material is read from the prompt or stdin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		material, err := readSecret("Enter key material: ")
		if err != nil {
			return err
		}
		rt := store.SymmetricKey
		if keyPrivate {
			rt = store.PrivateKey
		}
		return withEnv(func(e *env) error {
			kc, err := e.keychain(args[0])
			if err != nil {
				return err
			}
			it := keychain.NewItem(rt, store.Attributes{
				store.AttrKeyLabel:  []byte(args[1]),
				store.AttrPrintName: []byte(args[1]),
			}, material)
			if err := kc.Add(it); err != nil {
				return err
			}
			fmt.Printf("Key %q added to %s as %s\n", args[1], kc, rt)
			return nil
		})
	},
}

var referralCmd = &cobra.Command{
	Use:   "referral",
	Short: "Manage unlock referrals",
}

var referralAddCmd = &cobra.Command{
	Use:   "add <keychain>",
	Short: "Record that a keychain can be unlocked with a key stored in another keychain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := credential.ParseReferralKind(refKind)
		if err != nil {
			return err
		}
		return withEnv(func(e *env) error {
			kc, err := e.keychain(args[0])
			if err != nil {
				return err
			}
			target, err := e.registry.Lookup(refTarget)
			if err != nil {
				return err
			}
			ref := credential.Referral{
				Kind:     kind,
				Target:   target,
				KeyLabel: []byte(refKeyLabel),
			}
			if err := kc.Add(ref.Item()); err != nil {
				return err
			}
			fmt.Printf("Referral %s -> %s (%s %q) added\n", kc, target, kind, refKeyLabel)
			return nil
		})
	},
}

func init() {
	keyAddCmd.Flags().BoolVar(&keyPrivate, "private", false, "Store as a private key instead of a symmetric key")
	keyCmd.AddCommand(keyAddCmd)
	rootCmd.AddCommand(keyCmd)

	referralAddCmd.Flags().StringVar(&refKind, "kind", "direct-key", "Referral kind: direct-key or wrapped-private-key")
	referralAddCmd.Flags().StringVar(&refTarget, "target", "", "Keychain holding the key")
	referralAddCmd.Flags().StringVar(&refKeyLabel, "label", "", "Label of the key")
	referralAddCmd.MarkFlagRequired("target")
	referralAddCmd.MarkFlagRequired("label")
	referralCmd.AddCommand(referralAddCmd)
	rootCmd.AddCommand(referralCmd)
}
