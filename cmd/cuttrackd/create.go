package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xraph/cuttrack/job"
)

// CreateCmd creates a job from a YAML bill of materials:
//
//	name: Kitchen cabinets
//	cutlists:
//	  - name: Carcasses
//	    materials:
//	      - name: 18mm birch ply
//	        total_sheets: 6
type CreateCmd struct {
	RemoteFlags `embed:""`

	File string `arg:"" help:"Bill of materials file" type:"existingfile"`
}

// Run posts the bill of materials and prints the new job.
func (c *CreateCmd) Run(g *Globals) error {
	bom, err := readBOM(c.File)
	if err != nil {
		return err
	}
	j, err := c.httpClient().CreateJob(context.Background(), bom)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	printJob(os.Stdout, j, j.CreatedAt)
	return nil
}

func readBOM(path string) (job.BillOfMaterials, error) {
	var bom job.BillOfMaterials
	data, err := os.ReadFile(path)
	if err != nil {
		return bom, fmt.Errorf("read bill of materials: %w", err)
	}
	if err := yaml.Unmarshal(data, &bom); err != nil {
		return bom, fmt.Errorf("parse %s: %w", path, err)
	}
	return bom, nil
}
