package launcher

import (
	"context"
	"strconv"
	"strings"
)

// VisibleDevicesEnv restricts which accelerator the child process may use.
const VisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"

// Invocation describes one launch of the external keyword extractor.
// Each field maps to exactly one forwarded flag; there is no coupling
// between them.
type Invocation struct {
	Program string   // interpreter or binary, e.g. "python3"
	Script  string   // script path passed first when non-empty
	Device  int      // accelerator index exported via VisibleDevicesEnv

	Input       string
	Output      string
	ModelDir    string
	GPUMemUtil  float64
	Temperature float64
	TopP        float64
	K           int

	// Optional knobs the extractor also accepts. Zero values are omitted.
	BatchSize   int
	MaxTokens   int
	MaxModelLen int
	KeepRaw     bool

	// ExtraArgs are appended verbatim after the known flags.
	ExtraArgs []string

	Dir string // working directory
}

// Args renders the forwarded argv, flag order matching the extractor's
// documented surface: input, output, model, gpu_mem_util, temperature,
// top_p, k, then optional extras.
func (iv Invocation) Args() []string {
	args := make([]string, 0, 20)
	if s := strings.TrimSpace(iv.Script); s != "" {
		args = append(args, s)
	}
	args = append(args,
		"--input", iv.Input,
		"--output", iv.Output,
		"--model", iv.ModelDir,
		"--gpu_mem_util", FormatFloat(iv.GPUMemUtil),
		"--temperature", FormatFloat(iv.Temperature),
		"--top_p", FormatFloat(iv.TopP),
		"--k", strconv.Itoa(iv.K),
	)
	if iv.BatchSize > 0 {
		args = append(args, "--batch_size", strconv.Itoa(iv.BatchSize))
	}
	if iv.MaxTokens > 0 {
		args = append(args, "--max_tokens", strconv.Itoa(iv.MaxTokens))
	}
	if iv.MaxModelLen > 0 {
		args = append(args, "--max_model_len", strconv.Itoa(iv.MaxModelLen))
	}
	if iv.KeepRaw {
		args = append(args, "--keep_raw")
	}
	args = append(args, iv.ExtraArgs...)
	return args
}

// Env returns the child-only environment additions.
func (iv Invocation) Env() map[string]string {
	return map[string]string{VisibleDevicesEnv: strconv.Itoa(iv.Device)}
}

// Launch runs the external extractor synchronously. No retry, no recovery:
// the child's failure is the caller's failure, status intact (see ExitCode).
func Launch(ctx context.Context, iv Invocation) error {
	return Run(ctx, Cmd{
		Path:   iv.Program,
		Args:   iv.Args(),
		Env:    iv.Env(),
		Dir:    iv.Dir,
		Stream: true,
	})
}

// DepInvocation describes one launch of the external dependency-parse
// extractor, which tags nouns, adjectives and nominalised verbs instead of
// prompting a model. Its flag surface is much smaller than the keyword
// extractor's.
type DepInvocation struct {
	Program string
	Script  string
	Device  int

	Input  string
	Output string

	// PreferLangField makes the extractor honor each row's lang field;
	// otherwise DefaultLang applies to every row.
	PreferLangField bool
	DefaultLang     string // "zh" or "en"; empty omits the flag

	ExtraArgs []string

	Dir string
}

// Args renders the forwarded argv: input, output, then the language knobs.
func (iv DepInvocation) Args() []string {
	args := make([]string, 0, 8)
	if s := strings.TrimSpace(iv.Script); s != "" {
		args = append(args, s)
	}
	args = append(args,
		"--input", iv.Input,
		"--output", iv.Output,
	)
	if iv.PreferLangField {
		args = append(args, "--prefer_lang_field")
	}
	if iv.DefaultLang != "" {
		args = append(args, "--default_lang", iv.DefaultLang)
	}
	args = append(args, iv.ExtraArgs...)
	return args
}

// Env returns the child-only environment additions.
func (iv DepInvocation) Env() map[string]string {
	return map[string]string{VisibleDevicesEnv: strconv.Itoa(iv.Device)}
}

// LaunchDep runs the external dependency-parse extractor synchronously, with
// the same passthrough contract as Launch.
func LaunchDep(ctx context.Context, iv DepInvocation) error {
	return Run(ctx, Cmd{
		Path:   iv.Program,
		Args:   iv.Args(),
		Env:    iv.Env(),
		Dir:    iv.Dir,
		Stream: true,
	})
}

// FormatFloat renders a float the way the launch scripts write them: plain
// decimal notation, keeping one fractional digit for whole values so 0 and 1
// come out as "0.0" and "1.0".
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
