package main

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"github.com/pescn/psy-data-gen/coreengine/agents"
	"github.com/pescn/psy-data-gen/coreengine/bootstrap"
	"github.com/pescn/psy-data-gen/coreengine/runtime"
)

type backgroundGenerator interface {
	Generate(ctx context.Context, req agents.BackgroundRequest) (*agents.Background, error)
}

// personaSource fills in each batch input's personas from the background
// settings. The session seed picks the pool entry or the guided issue, so a
// seeded batch gets the same personas on every run.
type personaSource struct {
	settings  bootstrap.BackgroundSettings
	generator backgroundGenerator
	logger    agents.Logger
}

func (p *personaSource) prepare(ctx context.Context, index int, in runtime.SessionInput) (runtime.SessionInput, error) {
	seed := *in.Seed
	in.Metadata = maps.Clone(in.Metadata)
	if in.Metadata == nil {
		in.Metadata = make(map[string]string)
	}

	switch p.settings.Source {
	case bootstrap.PersonaSourcePool:
		i, pair := p.settings.PoolPair(seed)
		in.Student, in.Counselor = pair.Student, pair.Counselor
		in.Metadata["pool_index"] = strconv.Itoa(i)

	case bootstrap.PersonaSourceGenerate:
		bg, err := p.generator.Generate(ctx, p.settings.Request(seed))
		if err != nil {
			return in, err
		}
		if bg.Report.Completeness < p.settings.MinCompleteness {
			return in, agents.NewValidationError("background",
				fmt.Sprintf("completeness %.2f below %.2f", bg.Report.Completeness, p.settings.MinCompleteness))
		}
		in.Student, in.Counselor, in.Opening = bg.Student, bg.Counselor, bg.Opening
		in.Metadata["issue"] = bg.Student.Issue
		in.Metadata["background_mode"] = bg.Mode
		in.Metadata["background_completeness"] = strconv.FormatFloat(bg.Report.Completeness, 'f', 2, 64)
		in.Metadata["background_consistency"] = strconv.FormatFloat(bg.Report.Consistency, 'f', 2, 64)
	}

	p.logger.Debug("personas_prepared",
		"index", index,
		"source", p.settings.Source,
		"student", in.Student.Name,
		"counselor", in.Counselor.Name,
	)
	return in, nil
}
