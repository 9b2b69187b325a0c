package provablyfair

import (
	"crypto/subtle"
	"strings"
)

type Reason string

const (
	ReasonCommitmentMismatch Reason = "CommitmentMismatch"
	ReasonOutcomeMismatch    Reason = "OutcomeMismatch"
	ReasonInvalidInput       Reason = "InvalidInput"
)

type VerifyInput struct {
	GameID     string   `json:"game_id"`
	Secret     string   `json:"secret"`
	ClientSeed string   `json:"client_seed"`
	Commitment string   `json:"secret_commitment"`
	Kind       Kind     `json:"kind"`
	Weights    []Weight `json:"weights,omitempty"`
	// RecordedOutcome is the coin side for binary games or the winner id for
	// weighted games.
	RecordedOutcome string `json:"recorded_outcome"`
	// RecordedHash is optional; when set it must match the recomputed
	// derivation hash as well.
	RecordedHash string `json:"recorded_hash,omitempty"`
}

type VerificationResult struct {
	GameID     string   `json:"game_id,omitempty"`
	Valid      bool     `json:"valid"`
	Reason     Reason   `json:"reason,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	Recomputed *Outcome `json:"recomputed,omitempty"`
}

// Verify recomputes the commitment and the outcome from revealed values.
// It never fails: mismatches are reported in the result.
func Verify(in VerifyInput) VerificationResult {
	res := VerificationResult{GameID: in.GameID}

	if !equalHex(HashSecret(in.Secret), in.Commitment) {
		res.Reason = ReasonCommitmentMismatch
		return res
	}

	out, err := Derive(in.Secret, in.ClientSeed, in.Kind, in.Weights)
	if err != nil {
		res.Reason = ReasonInvalidInput
		res.Detail = err.Error()
		return res
	}
	res.Recomputed = &out

	if out.Result() != in.RecordedOutcome {
		res.Reason = ReasonOutcomeMismatch
		return res
	}
	if in.RecordedHash != "" && !equalHex(out.DerivationHash, in.RecordedHash) {
		res.Reason = ReasonOutcomeMismatch
		return res
	}

	res.Valid = true
	return res
}

// equalHex compares hex digests ignoring letter case.
func equalHex(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}
