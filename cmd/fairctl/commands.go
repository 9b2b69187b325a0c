package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pvp-casino-backend/internal/config"
	"pvp-casino-backend/internal/models"
	"pvp-casino-backend/internal/provablyfair"
	"pvp-casino-backend/internal/services"
)

var errVerificationFailed = errors.New("verification failed")

// CommitCmd draws a fresh server secret and prints it with its commitment.
func CommitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit",
		Short: "Generate a server secret and its SHA-256 commitment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := provablyfair.GenerateCommitment()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"secret":            c.Secret,
				"secret_commitment": c.Hash,
			})
		},
	}
}

func SeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Build the client seed from a game id and its entries",
		Long: "Entries are given in sequence order as participant:choice:amount[:seed],\n" +
			"with the amount in cents.",
		Example: "  fairctl seed --game g1 --entry alice:heads:1000 --entry bob:tails:1000:lucky",
		Args:    cobra.NoArgs,
		RunE:    buildSeed,
	}
	cmd.Flags().StringP("game", "g", "", "game id")
	cmd.MarkFlagRequired("game")
	cmd.Flags().StringArrayP("entry", "e", nil, "entry as participant:choice:amount[:seed]")
	return cmd
}

func buildSeed(cmd *cobra.Command, args []string) error {
	gameID, _ := cmd.Flags().GetString("game")
	raw, _ := cmd.Flags().GetStringArray("entry")

	entries, err := parseEntries(raw)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), provablyfair.ClientSeed(gameID, entries))
	return nil
}

func DeriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive the outcome for a revealed secret and client seed",
		Args:  cobra.NoArgs,
		RunE:  derive,
	}
	addOutcomeFlags(cmd)
	return cmd
}

func addOutcomeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("secret", "s", "", "revealed server secret")
	cmd.MarkFlagRequired("secret")

	cmd.Flags().StringP("client-seed", "c", "", "client seed fixed at lock time")
	cmd.MarkFlagRequired("client-seed")

	cmd.Flags().StringP("kind", "k", string(provablyfair.KindBinary), "game kind: binary or weighted")
	cmd.Flags().StringP("weights", "w", "", "weighted games: participant=weight pairs, comma separated, in entry order")
}

func derive(cmd *cobra.Command, args []string) error {
	secret, _ := cmd.Flags().GetString("secret")
	clientSeed, _ := cmd.Flags().GetString("client-seed")
	kind, weights, err := kindAndWeights(cmd)
	if err != nil {
		return err
	}

	outcome, err := provablyfair.Derive(secret, clientSeed, kind, weights)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), outcome)
}

func VerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a revealed game against its commitment and recorded outcome",
		Args:  cobra.NoArgs,
		RunE:  verify,
	}
	addOutcomeFlags(cmd)

	cmd.Flags().String("commitment", "", "secret commitment published when the game opened")
	cmd.MarkFlagRequired("commitment")

	cmd.Flags().StringP("outcome", "o", "", "recorded outcome: coin side or winner id")
	cmd.MarkFlagRequired("outcome")

	cmd.Flags().String("hash", "", "recorded derivation hash (optional)")
	return cmd
}

func verify(cmd *cobra.Command, args []string) error {
	secret, _ := cmd.Flags().GetString("secret")
	clientSeed, _ := cmd.Flags().GetString("client-seed")
	commitment, _ := cmd.Flags().GetString("commitment")
	outcome, _ := cmd.Flags().GetString("outcome")
	hash, _ := cmd.Flags().GetString("hash")
	kind, weights, err := kindAndWeights(cmd)
	if err != nil {
		return err
	}

	res := provablyfair.Verify(provablyfair.VerifyInput{
		Secret:          secret,
		ClientSeed:      clientSeed,
		Commitment:      commitment,
		Kind:            kind,
		Weights:         weights,
		RecordedOutcome: outcome,
		RecordedHash:    hash,
	})
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("%w: %s", errVerificationFailed, res.Reason)
	}
	return nil
}

func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE:  token,
	}
	cmd.Flags().StringP("user", "u", "", "participant id (token subject)")
	cmd.MarkFlagRequired("user")
	cmd.Flags().StringP("role", "r", "", "optional role, e.g. admin")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().String("jwt-secret", "", "signing secret; defaults to $JWT_SECRET")
	return cmd
}

func token(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	secret, _ := cmd.Flags().GetString("jwt-secret")
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		return errors.New("a signing secret is required: set JWT_SECRET or --jwt-secret")
	}

	signed, err := services.NewJWTService(&config.Config{JWTSecret: secret}).GenerateToken(user, role, ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), signed)
	return nil
}

func kindAndWeights(cmd *cobra.Command) (provablyfair.Kind, []provablyfair.Weight, error) {
	rawKind, _ := cmd.Flags().GetString("kind")
	rawWeights, _ := cmd.Flags().GetString("weights")

	kind := provablyfair.Kind(rawKind)
	if !kind.Valid() {
		return "", nil, fmt.Errorf("unknown kind %q", rawKind)
	}
	if kind == provablyfair.KindBinary {
		return kind, nil, nil
	}

	weights, err := parseWeights(rawWeights)
	if err != nil {
		return "", nil, err
	}
	return kind, weights, nil
}

// parseWeights reads "alice=100,bob=300" keeping the given order.
func parseWeights(s string) ([]provablyfair.Weight, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("weighted games need --weights")
	}

	var weights []provablyfair.Weight
	for _, pair := range strings.Split(s, ",") {
		id, w, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("bad weight %q, want participant=weight", pair)
		}
		n, err := strconv.ParseInt(w, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("bad weight %q: must be a positive integer", pair)
		}
		weights = append(weights, provablyfair.Weight{ParticipantID: id, Weight: n})
	}
	return weights, nil
}

func parseEntries(raw []string) ([]provablyfair.SeedEntry, error) {
	entries := make([]provablyfair.SeedEntry, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, ":", 4)
		if len(parts) < 3 || parts[0] == "" {
			return nil, fmt.Errorf("bad entry %q, want participant:choice:amount[:seed]", r)
		}
		amount, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("bad entry %q: %w", r, models.ErrInvalidInput)
		}
		e := provablyfair.SeedEntry{ParticipantID: parts[0], Choice: parts[1], Amount: amount}
		if len(parts) == 4 {
			e.Seed = parts[3]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
