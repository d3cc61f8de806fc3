package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ryoh/typerank/internal/storage"
	"github.com/ryoh/typerank/internal/typing"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Manage the prompt pool",
}

var (
	promptLanguage string
	promptText     string
	promptTarget   string
	promptTags     []string
	promptInactive bool
)

var promptAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a single prompt",
	Long: `Add a prompt to the pool.

--target is the authoritative character sequence participants must
reproduce; it defaults to --text. For kana and romaji prompts the two
usually differ (display shows the sentence, target holds the input).`,
	RunE: runPromptAdd,
}

var promptSeedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load prompts from a YAML file",
	Long: `Load prompts from a YAML seed file.

File format:

  prompts:
    - language: romaji
      display_text: "私はプログラマーです"
      typing_target: "watashihapuroguramadesu"
      tags: [basic, nihongo]
    - language: english
      display_text: "the quick brown fox"
      is_active: false

typing_target defaults to display_text and is_active defaults to true.`,
	Args: cobra.ExactArgs(1),
	RunE: runPromptSeed,
}

var (
	promptListLanguage string
	promptListActive   bool
	promptListLimit    int
)

var promptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompts",
	RunE:  runPromptList,
}

func init() {
	f := promptAddCmd.Flags()
	f.StringVar(&promptLanguage, "language", "romaji", "Prompt language: romaji, english, or kana")
	f.StringVar(&promptText, "text", "", "Display text shown to participants (required)")
	f.StringVar(&promptTarget, "target", "", "Typing target (defaults to --text)")
	f.StringSliceVar(&promptTags, "tags", nil, "Tags, comma separated")
	f.BoolVar(&promptInactive, "inactive", false, "Create the prompt deactivated")

	promptListCmd.Flags().StringVar(&promptListLanguage, "language", "", "Filter by language")
	promptListCmd.Flags().BoolVar(&promptListActive, "active", false, "Only active prompts")
	promptListCmd.Flags().IntVar(&promptListLimit, "limit", 50, "Maximum number of prompts to show")

	promptCmd.AddCommand(promptAddCmd)
	promptCmd.AddCommand(promptSeedCmd)
	promptCmd.AddCommand(promptListCmd)
}

func runPromptAdd(cmd *cobra.Command, args []string) error {
	if promptText == "" {
		return errors.New("--text is required")
	}
	target := promptTarget
	if target == "" {
		target = promptText
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := &typing.Prompt{
		Language:     typing.Language(promptLanguage),
		DisplayText:  promptText,
		TypingTarget: target,
		Tags:         promptTags,
		IsActive:     !promptInactive,
	}
	if err := store.CreatePrompt(ctx, p); err != nil {
		return fmt.Errorf("failed to create prompt: %w", err)
	}

	fmt.Printf("Created prompt %s%s%s (%s)\n", colorGreen, p.ID, colorReset, p.Language)
	return nil
}

// seedFile is the YAML shape `prompt seed` reads.
type seedFile struct {
	Prompts []seedPrompt `yaml:"prompts"`
}

type seedPrompt struct {
	Language     string   `yaml:"language"`
	DisplayText  string   `yaml:"display_text"`
	TypingTarget string   `yaml:"typing_target"`
	Tags         []string `yaml:"tags"`
	IsActive     *bool    `yaml:"is_active"`
}

// parseSeedFile decodes and validates a prompt seed file. Entries are
// validated up front so a bad file loads nothing instead of half.
func parseSeedFile(data []byte) ([]typing.Prompt, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(f.Prompts) == 0 {
		return nil, errors.New("seed file has no prompts")
	}

	prompts := make([]typing.Prompt, 0, len(f.Prompts))
	for i, sp := range f.Prompts {
		if sp.DisplayText == "" {
			return nil, fmt.Errorf("prompt %d: display_text is required", i+1)
		}
		lang := typing.Language(sp.Language)
		switch lang {
		case typing.LanguageRomaji, typing.LanguageEnglish, typing.LanguageKana:
		default:
			return nil, fmt.Errorf("prompt %d: unknown language %q", i+1, sp.Language)
		}
		target := sp.TypingTarget
		if target == "" {
			target = sp.DisplayText
		}
		prompts = append(prompts, typing.Prompt{
			Language:     lang,
			DisplayText:  sp.DisplayText,
			TypingTarget: target,
			Tags:         sp.Tags,
			IsActive:     sp.IsActive == nil || *sp.IsActive,
		})
	}
	return prompts, nil
}

func runPromptSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	prompts, err := parseSeedFile(data)
	if err != nil {
		return err
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := range prompts {
		if err := store.CreatePrompt(ctx, &prompts[i]); err != nil {
			return fmt.Errorf("prompt %d: %w", i+1, err)
		}
	}

	fmt.Printf("Seeded %s%d%s prompt(s) from %s\n", colorGreen, len(prompts), colorReset, args[0])
	return nil
}

func runPromptList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prompts, err := store.ListPrompts(ctx, storage.PromptQuery{
		Language:   typing.Language(promptListLanguage),
		ActiveOnly: promptListActive,
		Limit:      promptListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list prompts: %w", err)
	}

	if len(prompts) == 0 {
		fmt.Println("No prompts.")
		return nil
	}

	fmt.Printf("%s%s %s %s %s%s\n", colorBold,
		padCell("ID", 36), padCell("LANG", 7), padCell("ACTIVE", 6),
		padCell("TEXT", 40), colorReset)
	for _, p := range prompts {
		active := colorGreen + padCell("yes", 6) + colorReset
		if !p.IsActive {
			active = colorDim + padCell("no", 6) + colorReset
		}
		fmt.Printf("%s %s %s %s\n",
			padCell(p.ID, 36), padCell(string(p.Language), 7), active,
			padCell(p.DisplayText, 40))
	}
	fmt.Println()
	fmt.Printf("%s%d prompt(s)%s\n", colorDim, len(prompts), colorReset)
	return nil
}
