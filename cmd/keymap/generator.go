package main

import (
	"context"
	"fmt"

	"github.com/fwojciec/keymap"
	"github.com/fwojciec/keymap/config"
	"github.com/fwojciec/keymap/gemini"
)

// pickGenerator decides which generator serves id. Anonymous sessions have
// no bearer token for the backend and always generate through Gemini.
func pickGenerator(cfg config.Config, id keymap.Identity) (string, error) {
	name := cfg.Generator
	if isAnonymous(id) {
		name = config.GeneratorGemini
	}
	if name == config.GeneratorGemini && cfg.GeminiAPIKey == "" {
		return "", fmt.Errorf("GEMINI_API_KEY not set (required for anonymous sessions and generator: gemini): %w", keymap.ErrValidation)
	}
	return name, nil
}

// generator constructs the generator for id. All env values have already
// been folded into the config.
func (a *app) generator(ctx context.Context, id keymap.Identity) (keymap.Generator, error) {
	name, err := pickGenerator(a.cfg, id)
	if err != nil {
		return nil, err
	}
	if name == config.GeneratorRemote {
		return a.client, nil
	}
	client, err := gemini.New(ctx, a.cfg.GeminiAPIKey,
		gemini.WithModel(a.cfg.GeminiModel),
		gemini.WithLogger(a.log.Named("gemini")))
	if err != nil {
		return nil, err
	}
	return client, nil
}
