package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// fingerprintVersion is baked into every fingerprint so a change to the
// canonical form never collides with records written before it.
const fingerprintVersion = "v1"

// debtorAmount is one (debtor, amount) pair inside a fingerprint payload.
// Amounts are rendered at fixed scale so 10, 10.0 and 10.00 canonicalize
// identically.
type debtorAmount struct {
	Debtor string `json:"debtor"`
	Amount string `json:"amount"`
}

type fingerprintEnvelope struct {
	Version   string `json:"v"`
	Group     string `json:"group"`
	Actor     string `json:"actor,omitempty"`
	Operation string `json:"op"`
	Payload   any    `json:"payload"`
}

type createBillPayload struct {
	Payer       string         `json:"payer"`
	Description string         `json:"description"`
	Total       string         `json:"total"`
	Debtors     []debtorAmount `json:"debtors"`
}

type markPaidPayload struct {
	BillID  int64    `json:"bill_id"`
	Debtors []string `json:"debtors"`
}

// normalizeText canonicalizes free text for fingerprinting: surrounding and
// repeated whitespace collapses, case folds. The stored description keeps
// its original form; only the fingerprint normalizes.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// fingerprint hashes a canonical envelope. Struct fields marshal in
// declaration order, so equal envelopes always serialize byte-identically.
func fingerprint(env fingerprintEnvelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to serialize fingerprint payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// sortedDebtorAmounts renders (debtor, amount) pairs at fixed scale, sorted
// by debtor so listing order never changes the fingerprint.
func sortedDebtorAmounts(keys []string, amounts []decimal.Decimal) []debtorAmount {
	pairs := make([]debtorAmount, len(keys))
	for i, k := range keys {
		pairs[i] = debtorAmount{Debtor: k, Amount: amounts[i].StringFixed(2)}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Debtor != pairs[j].Debtor {
			return pairs[i].Debtor < pairs[j].Debtor
		}
		return pairs[i].Amount < pairs[j].Amount
	})
	return pairs
}

// createBillFingerprint identifies a bill-creation attempt by who asked for
// what: actor, payer, normalized description, total, and the sorted share
// list. Two retries of the same command collide; any changed field does not.
func createBillFingerprint(groupExt, actorExt, payerExt, description string, total decimal.Decimal, debtorKeys []string, amounts []decimal.Decimal) (string, error) {
	return fingerprint(fingerprintEnvelope{
		Version:   fingerprintVersion,
		Group:     groupExt,
		Actor:     actorExt,
		Operation: opCreateBill,
		Payload: createBillPayload{
			Payer:       payerExt,
			Description: normalizeText(description),
			Total:       total.StringFixed(2),
			Debtors:     sortedDebtorAmounts(debtorKeys, amounts),
		},
	})
}

// markPaidFingerprint identifies a payment-marking attempt by bill and the
// sorted debtor set.
func markPaidFingerprint(groupExt, actorExt string, billID int64, debtorExts []string) (string, error) {
	sorted := make([]string, len(debtorExts))
	copy(sorted, debtorExts)
	sort.Strings(sorted)

	return fingerprint(fingerprintEnvelope{
		Version:   fingerprintVersion,
		Group:     groupExt,
		Actor:     actorExt,
		Operation: opMarkPaid,
		Payload:   markPaidPayload{BillID: billID, Debtors: sorted},
	})
}

// contentFingerprint identifies the bill itself, independent of who records
// it and when: payer, normalized description, total, sorted share list.
// While an identical unarchived bill exists in the group, creating another
// is rejected; archiving releases the content for re-use.
func contentFingerprint(groupExt, payerExt, description string, total decimal.Decimal, debtorKeys []string, amounts []decimal.Decimal) (string, error) {
	return fingerprint(fingerprintEnvelope{
		Version:   fingerprintVersion,
		Group:     groupExt,
		Operation: "bill_content",
		Payload: createBillPayload{
			Payer:       payerExt,
			Description: normalizeText(description),
			Total:       total.StringFixed(2),
			Debtors:     sortedDebtorAmounts(debtorKeys, amounts),
		},
	})
}
