package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/infra"
	"github.com/fystack/eth-disburser/pkg/repository"
)

type HistoryCmd struct {
	ConfigFlags
	Source string `arg:"" help:"Source wallet address."`
	Limit  uint   `help:"Maximum number of rows, newest first." default:"50"`
}

func (c *HistoryCmd) Run() error {
	cfg, err := c.load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is not configured")
	}
	source, err := domain.ParseAddress(c.Source)
	if err != nil {
		return err
	}

	db, err := infra.NewDBConnection(cfg.Database.URL, cfg.Environment)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	history, err := repository.NewDisbursementHistory(db, cfg.Network.Network(), false)
	if err != nil {
		return err
	}

	rows, err := history.BySource(context.Background(), source, c.Limit)
	if err != nil {
		return err
	}
	return printJSON(rows)
}
