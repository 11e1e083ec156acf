package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/xraph/cuttrack/id"
	"github.com/xraph/cuttrack/ledger"
	"github.com/xraph/cuttrack/reconcile"
)

// ToggleCmd marks one sheet. Asking for the status a sheet already has
// resets it to pending.
type ToggleCmd struct {
	RemoteFlags `embed:""`

	Job      string `required:"" help:"Job ID"`
	Material string `xor:"target" required:"" help:"Material ID"`
	Recut    string `xor:"target" required:"" help:"Recut entry ID"`
	Index    int    `required:"" help:"Zero-based sheet index"`
	Status   string `default:"cut" enum:"pending,cut,skip" help:"Requested status (${enum})"`
}

// Run applies the toggle and prints the resulting job.
func (t *ToggleCmd) Run(_ *Globals) error {
	jobID, err := id.ParseJobID(t.Job)
	if err != nil {
		return err
	}
	requested, err := ledger.ParseSheetStatus(t.Status)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hc := t.httpClient()
	snap, err := hc.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	sess := reconcile.NewSession(snap, hc)

	var applied ledger.SheetStatus
	if t.Recut != "" {
		recutID, perr := id.ParseRecutID(t.Recut)
		if perr != nil {
			return perr
		}
		applied, err = sess.ToggleRecutSheet(ctx, recutID, t.Index, requested)
	} else {
		materialID, perr := id.ParseMaterialID(t.Material)
		if perr != nil {
			return perr
		}
		applied, err = sess.ToggleSheet(ctx, materialID, t.Index, requested)
	}
	if err != nil {
		var ae *reconcile.ActionError
		if errors.As(err, &ae) {
			return errors.New(ae.Message())
		}
		return err
	}

	fmt.Fprintf(os.Stdout, "sheet %d is now %s\n", t.Index, applied)
	printJob(os.Stdout, sess.View(), time.Now())
	return nil
}
