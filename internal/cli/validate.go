package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quenchlab/rig/internal/runcard"
)

// ValidationResult holds validation results for JSON output.
type ValidationResult struct {
	Valid  bool       `json:"valid"`
	Errors []CLIError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <runcard.yaml>",
		Short: "Validate a runcard without touching any instrument",
		Long: `Validate a runcard document without connecting instruments.

Checks the document against the structural schema, then applies the
semantic rules: variable reference resolution, expression parsing and
dry-run evaluation, dependency cycle detection, alarm condition and
protocol syntax, routine conflicts.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	rc, loadErrs := runcard.Load(path)
	if len(loadErrs) > 0 {
		return reportErrors(formatter, loadErrs)
	}
	formatter.VerboseLog("loaded %s", path)

	if verrs := runcard.Validate(rc); len(verrs) > 0 {
		return reportErrors(formatter, verrs)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(ValidationResult{Valid: true}); err != nil {
			return err
		}
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), runcard.Report(nil))
	return nil
}

// reportErrors renders load or validation errors and returns the
// validation exit code.
func reportErrors(f *OutputFormatter, errs []error) error {
	if f.Format == "json" {
		result := ValidationResult{Valid: false}
		for _, err := range errs {
			result.Errors = append(result.Errors, toCLIError(err))
		}
		if err := f.Error(validationCode(errs), "runcard is invalid", result); err != nil {
			return err
		}
	} else {
		fmt.Fprint(f.Writer, runcard.Report(errs))
	}
	return NewExitError(ExitValidation, fmt.Sprintf("runcard is invalid: %d error(s)", len(errs)))
}

func toCLIError(err error) CLIError {
	var verr *runcard.ValidationError
	if errors.As(err, &verr) {
		return CLIError{Code: verr.Code, Message: fmt.Sprintf("%s: %s", verr.Path, verr.Message)}
	}
	var lerr *runcard.LoadError
	if errors.As(err, &lerr) {
		return CLIError{Code: lerr.Code, Message: lerr.Message}
	}
	return CLIError{Code: runcard.ErrCodeGeneric, Message: err.Error()}
}

func validationCode(errs []error) string {
	if len(errs) == 0 {
		return runcard.ErrCodeGeneric
	}
	return toCLIError(errs[0]).Code
}
