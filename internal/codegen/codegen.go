/**
 * @description
 * This package produces the identifiers the ledger depends on: 10-digit account numbers and
 * transaction reference numbers. Uniqueness is enforced by the store; the generators only
 * need to make collisions rare.
 *
 * @dependencies
 * - crypto/rand, math/big: Uniform random digits.
 * - github.com/google/uuid: Random bytes for reference numbers.
 */
package codegen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MaxReferenceLength matches the width of the reference_number column.
const MaxReferenceLength = 50

var (
	accountNumberFloor = big.NewInt(1_000_000_000)
	accountNumberSpan  = big.NewInt(9_000_000_000)
)

// Generator produces account numbers and references. The service depends on this
// interface so tests can inject deterministic values.
type Generator interface {
	AccountNumber() (string, error)
	Reference() string
}

// Random is the production Generator.
type Random struct {
	now func() time.Time
}

// New returns a Generator backed by crypto/rand and uuid.
func New() *Random {
	return &Random{now: time.Now}
}

// AccountNumber returns a 10-digit decimal string with no leading zero.
func (g *Random) AccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, accountNumberSpan)
	if err != nil {
		return "", fmt.Errorf("failed to read random digits: %w", err)
	}
	return n.Add(n, accountNumberFloor).String(), nil
}

// Reference returns a random hex token with a millisecond timestamp suffix.
func (g *Random) Reference() string {
	id := uuid.New()
	ref := hex.EncodeToString(id[:]) + strconv.FormatInt(g.now().UnixMilli(), 36)
	if len(ref) > MaxReferenceLength {
		ref = ref[:MaxReferenceLength]
	}
	return ref
}
