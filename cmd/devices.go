package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/bnema/scanout/internal/backend"
	"github.com/bnema/scanout/internal/config"
	"github.com/bnema/scanout/internal/drm"
	"github.com/bnema/scanout/internal/hotplug"
	"github.com/bnema/scanout/internal/kms"
	"github.com/bnema/scanout/internal/logger"
)

// allCards is the select value meaning "drive every card".
const allCards = ""

// cardPaths resolves the cards to drive: the --device flag, then the
// configured paths, then an interactive choice when several cards exist and
// stdin is a terminal. A nil result means every card, including ones that
// appear later.
func cardPaths(device string, cfg *config.Config, cardDir string, interactive bool) ([]string, error) {
	if device != "" {
		return []string{device}, nil
	}
	if len(cfg.Device.Paths) > 0 {
		return cfg.Device.Paths, nil
	}

	cards, err := hotplug.ListCards(cardDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	if len(cards) == 0 {
		return nil, fmt.Errorf("no DRM cards in %s", cardDir)
	}
	if len(cards) == 1 || !interactive {
		return nil, nil
	}

	selected, err := selectCard(cards)
	if err != nil {
		return nil, err
	}
	if selected == allCards {
		return nil, nil
	}
	return []string{selected}, nil
}

// selectCard presents an interactive selection of card nodes
func selectCard(cards []string) (string, error) {
	options := make([]huh.Option[string], 0, len(cards)+1)
	options = append(options, huh.NewOption("All cards", allCards))
	for _, path := range cards {
		options = append(options, huh.NewOption(cardLabel(path), path))
	}

	var selected string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select DRM Card").
				Description("Choose the GPU whose outputs should be driven").
				Options(options...).
				Value(&selected),
		),
	)

	if err := form.Run(); err != nil {
		return "", fmt.Errorf("card selection cancelled: %w", err)
	}
	return selected, nil
}

// cardLabel names a card by its kernel driver when the node can be opened.
func cardLabel(path string) string {
	card, err := drm.Open(path)
	if err != nil {
		return path
	}
	defer card.Close()
	name, err := card.DriverName()
	if err != nil || name == "" {
		return path
	}
	return fmt.Sprintf("%s (%s)", path, name)
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// gpuOptions maps the [kms] section onto per-card options.
func gpuOptions(cfg *config.Config) (kms.Options, error) {
	policy, err := kms.ParseShufflePolicy(cfg.KMS.ShufflePolicy)
	if err != nil {
		return kms.Options{}, err
	}
	return kms.Options{
		DisableModifiers: cfg.KMS.DisableModifiers,
		IdleTimeout:      cfg.KMS.IdleTimeout,
		ShufflePolicy:    policy,
		SoftwareCursor:   cfg.KMS.SoftwareCursor,
	}, nil
}

func backendOptions(cfg *config.Config, paths []string, hotplugEvents bool) (backend.Options, error) {
	gpu, err := gpuOptions(cfg)
	if err != nil {
		return backend.Options{}, err
	}
	if cfg.KMS.DisableAtomic {
		logger.Info("atomic mode setting disabled by configuration")
	}
	return backend.Options{
		Paths:         paths,
		CardDir:       hotplug.DefaultCardDir,
		DisableAtomic: cfg.KMS.DisableAtomic,
		GPU:           gpu,
		Hotplug:       hotplugEvents,
	}, nil
}
