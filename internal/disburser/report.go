package disburser

import (
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/common/types"
	"github.com/fystack/eth-disburser/pkg/unit"
)

type Outcome string

const (
	// OutcomeSent means a new split was broadcast.
	OutcomeSent Outcome = "sent"
	// OutcomeResent means at least one unresolved transaction was re-broadcast.
	OutcomeResent Outcome = "resent"
	// OutcomePending means unresolved transactions exist but none is old enough to resend.
	OutcomePending Outcome = "pending"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Report is produced by every run, including failed ones.
type Report struct {
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Tasks      []*TaskReport `json:"tasks"`
}

type TaskReport struct {
	Name         string                              `json:"name"`
	Source       string                              `json:"source"`
	Outcome      Outcome                             `json:"outcome"`
	Reason       string                              `json:"reason,omitempty"`
	GasPrice     *unit.Amount                        `json:"gasPrice,omitempty"`
	Balance      *unit.Amount                        `json:"balance,omitempty"`
	Disbursable  *unit.Amount                        `json:"disbursable,omitempty"`
	Transactions map[string]domain.TransactionRecord `json:"transactions"`
	Errors       []string                            `json:"errors,omitempty"`
	// NonceGaps are nonces that were never broadcast while a later one was. Transfers
	// above a gap stay pending until the gap is filled by hand.
	NonceGaps []uint64 `json:"nonceGaps,omitempty"`

	errs types.MultiError
}

func newTaskReport(task *domain.TaskWallet) *TaskReport {
	return &TaskReport{
		Name:         task.Name,
		Source:       task.Source().String(),
		Transactions: make(map[string]domain.TransactionRecord),
	}
}

func (r *TaskReport) skip(reason string) {
	r.Outcome = OutcomeSkipped
	r.Reason = reason
}

func (r *TaskReport) fail(err error) {
	r.Outcome = OutcomeFailed
	r.addError(err)
}

func (r *TaskReport) addError(err error) {
	r.errs.Add(err)
	r.Errors = r.errs.Strings()
}

// Err aggregates every error recorded for the task, or nil.
func (r *TaskReport) Err() error {
	return r.errs.ErrOrNil()
}

func (r *TaskReport) record(rec domain.TransactionRecord) {
	r.Transactions[rec.To] = rec
}

func (r *Report) finish(at time.Time, fatal error) {
	r.FinishedAt = at.UTC()
	r.Success = fatal == nil
	if fatal != nil {
		r.Error = fatal.Error()
	}
	for _, t := range r.Tasks {
		if t.Outcome == OutcomeFailed || t.Err() != nil {
			r.Success = false
		}
	}
}
