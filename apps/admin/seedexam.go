package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/trezcool/mtihani/core/exam"
)

// seedExam creates a draft exam from a JSON definition file.
func (cli *commandLine) seedExam(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading exam file")
	}

	var ne exam.NewExam
	if err := json.Unmarshal(data, &ne); err != nil {
		return errors.Wrap(err, "parsing exam file")
	}
	if err := ne.Validate(); err != nil {
		return err
	}

	ex, err := cli.examSvc.Create(ctx, ne)
	if err != nil {
		return err
	}
	fmt.Printf("exam %s created (draft, %d questions, total score %d)\n", ex.ID, len(ne.Questions), ex.TotalScore)
	return nil
}
