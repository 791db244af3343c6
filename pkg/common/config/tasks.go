package config

import (
	"fmt"
	"os"

	"github.com/fystack/eth-disburser/internal/domain"
)

// Credential resolves the task's signing key from its environment variable or its
// keystore file. The key is never part of the config document itself.
func (t TaskConfig) Credential() (*domain.Credential, error) {
	if t.PrivateKeyEnv != "" {
		key, err := Secret(t.PrivateKeyEnv)
		if err != nil {
			return nil, err
		}
		return domain.CredentialFromHex(key)
	}

	data, err := os.ReadFile(t.Keystore)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	password, err := Secret(t.KeystorePasswordEnv)
	if err != nil {
		return nil, err
	}
	return domain.CredentialFromKeystore(data, password)
}

// TaskWallets builds the task wallets in config order.
func (c *Config) TaskWallets() ([]*domain.TaskWallet, error) {
	tasks := make([]*domain.TaskWallet, 0, len(c.Tasks))
	for i, t := range c.Tasks {
		cred, err := t.Credential()
		if err != nil {
			return nil, fmt.Errorf("tasks[%d] %s: %w", i, t.Name, err)
		}
		recipients := make([]domain.RecipientWallet, len(t.Recipients))
		for j, r := range t.Recipients {
			if recipients[j], err = domain.NewRecipientWallet(r.Address, r.Percent); err != nil {
				return nil, fmt.Errorf("tasks[%d].recipients[%d]: %w", i, j, err)
			}
		}
		task, err := domain.NewTaskWallet(t.Name, cred, recipients)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
