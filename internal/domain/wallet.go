package domain

import (
	"errors"
	"fmt"

	"github.com/fystack/eth-disburser/pkg/unit"
)

var (
	ErrSplitPercentage     = errors.New("recipient percentages do not sum to 100")
	ErrSplitAmountMismatch = errors.New("recipient shares do not add up to the total amount")
	ErrInvalidPercent      = errors.New("percent must be within [0, 100]")
	ErrNoRecipients        = errors.New("task wallet has no recipients")
	ErrDuplicateRecipient  = errors.New("duplicate recipient")
)

type RecipientWallet struct {
	Address Address `json:"address"`
	Percent int     `json:"percent"`
}

func NewRecipientWallet(address string, percent int) (RecipientWallet, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return RecipientWallet{}, err
	}
	if percent < 0 || percent > 100 {
		return RecipientWallet{}, fmt.Errorf("%w: %d", ErrInvalidPercent, percent)
	}
	return RecipientWallet{Address: addr, Percent: percent}, nil
}

// Share returns Percent% of total, truncated to whole wei and expressed in total's denomination.
func (r RecipientWallet) Share(total unit.Amount) unit.Amount {
	return total.Percent(int64(r.Percent)).Truncate(unit.Wei)
}

type TaskWallet struct {
	Name       string
	Credential *Credential
	Recipients []RecipientWallet
}

func NewTaskWallet(name string, cred *Credential, recipients []RecipientWallet) (*TaskWallet, error) {
	if cred == nil {
		return nil, fmt.Errorf("task %s: %w", name, ErrInvalidCredential)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("task %s: %w", name, ErrNoRecipients)
	}
	seen := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		if _, ok := seen[r.Address.Lower()]; ok {
			return nil, fmt.Errorf("task %s: %w: %s", name, ErrDuplicateRecipient, r.Address)
		}
		seen[r.Address.Lower()] = struct{}{}
	}
	if name == "" {
		name = cred.Address().Lower()
	}
	return &TaskWallet{Name: name, Credential: cred, Recipients: recipients}, nil
}

func (t *TaskWallet) Source() Address { return t.Credential.Address() }

func (t *TaskWallet) PercentTotal() int {
	total := 0
	for _, r := range t.Recipients {
		total += r.Percent
	}
	return total
}

func (t *TaskWallet) RecipientAddresses() []Address {
	out := make([]Address, len(t.Recipients))
	for i, r := range t.Recipients {
		out[i] = r.Address
	}
	return out
}

// ValidateSplit checks that the percentages sum to exactly 100 and that the
// per-recipient shares of total add back up to total. The percentage check
// always runs first.
func ValidateSplit(task *TaskWallet, total unit.Amount) error {
	if sum := task.PercentTotal(); sum != 100 {
		return fmt.Errorf("task %s: %w (got %d)", task.Name, ErrSplitPercentage, sum)
	}
	shares := make([]unit.Amount, len(task.Recipients))
	for i, r := range task.Recipients {
		shares[i] = r.Share(total)
	}
	if sum := unit.Sum(shares...); !sum.Equal(total) {
		return fmt.Errorf("task %s: %w (%s != %s)", task.Name, ErrSplitAmountMismatch, sum.ToWei(), total.ToWei())
	}
	return nil
}
