package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/examhall/examhall/internal/auth"
	"github.com/examhall/examhall/internal/evaluator"
	"github.com/examhall/examhall/internal/exams"
	"github.com/examhall/examhall/internal/importer"
	"github.com/examhall/examhall/internal/model"
	"github.com/examhall/examhall/internal/store"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one session and print the result",
		RunE:  runEvaluate,
	}
	f := cmd.Flags()
	f.String("session", "", "Session ID (required)")
	f.String("as", "", "Username to evaluate as (default: system)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(f)
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func rankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Recompute rank and percentile for an exam",
		RunE:  runRank,
	}
	f := cmd.Flags()
	f.String("exam", "", "Exam ID (required)")
	f.Bool("publish", false, "Also publish the exam's results")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(f)
	_ = cmd.MarkFlagRequired("exam")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <bundle.json>...",
		Short: "Import exam bundles",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.Bool("force", false, "Re-import bundles whose content changed since the last import")
	f.Bool("evaluate", true, "Evaluate finished sessions after import")
	addCommonFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("exam", "", "Exam ID (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(f)
	_ = cmd.MarkFlagRequired("exam")
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE:  runUserCreate,
	}
	f := create.Flags()
	f.String("username", "", "Login name (required)")
	f.String("password", "", "Password (or set EXAMHALL_PASSWORD)")
	f.String("display-name", "", "Display name (default: username)")
	f.String("role", string(model.UserRoleStudent), "Role (student, teacher, institute_admin, super_admin)")
	f.String("institute", "", "Institute the role is scoped to")
	addCommonFlags(f)
	_ = create.MarkFlagRequired("username")
	cmd.AddCommand(create)
	return cmd
}

// newEvaluator builds the evaluation stack for one-shot commands.
func newEvaluator(db *store.Store, v *viper.Viper) (*evaluator.Service, *exams.Service) {
	eval := evaluator.New(db, evaluator.WithStoreTimeout(v.GetDuration("store-timeout")))
	return eval, exams.New(db, eval)
}

// callerFor resolves username to a caller identity. An empty username is the
// system caller.
func callerFor(ctx context.Context, db *store.Store, username string) (model.CallerIdentity, error) {
	if username == "" {
		return exams.SystemCaller, nil
	}
	u, err := db.GetUserByUsername(ctx, username)
	if err != nil {
		return model.CallerIdentity{}, fmt.Errorf("load user %s: %w", username, err)
	}
	if u == nil {
		return model.CallerIdentity{}, fmt.Errorf("user %s not found", username)
	}
	roles, err := db.ListRoles(ctx, u.ID)
	if err != nil {
		return model.CallerIdentity{}, fmt.Errorf("load roles for %s: %w", username, err)
	}
	return model.CallerIdentity{UserID: u.ID, Roles: roles}, nil
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	caller, err := callerFor(ctx, db, v.GetString("as"))
	if err != nil {
		return err
	}
	eval, _ := newEvaluator(db, v)
	ev, err := eval.Evaluate(ctx, v.GetString("session"), caller)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return writeOutput(v.GetString("output"), ev)
}

func runRank(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	_, examSvc := newEvaluator(db, v)
	standings, err := examSvc.Rank(ctx, exams.SystemCaller, v.GetString("exam"), v.GetBool("publish"))
	if err != nil {
		return fmt.Errorf("rank: %w", err)
	}
	slog.Info("ranked exam", "exam_id", v.GetString("exam"), "results", len(standings), "published", v.GetBool("publish"))
	return writeOutput(v.GetString("output"), standings)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	im := importer.New(db, importer.WithForce(v.GetBool("force")))
	eval, _ := newEvaluator(db, v)
	for _, path := range args {
		rep, err := im.ImportFile(ctx, path)
		if err != nil {
			return err
		}
		if rep.Skipped || !v.GetBool("evaluate") {
			continue
		}
		evaluated := 0
		for _, id := range rep.Finished {
			if _, err := eval.Evaluate(ctx, id, exams.SystemCaller); err != nil {
				slog.Error("evaluate imported session", "session_id", id, "error", err)
				continue
			}
			evaluated++
		}
		slog.Info("evaluated imported sessions", "path", path, "count", evaluated, "finished", len(rep.Finished))
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportExam(ctx, v.GetString("exam"))
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}
	if export == nil {
		return fmt.Errorf("exam %s not found", v.GetString("exam"))
	}
	return writeOutput(v.GetString("output"), export)
}

func runUserCreate(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	role := model.UserRole(strings.ToLower(v.GetString("role")))
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	institute := v.GetString("institute")
	if (role == model.UserRoleTeacher || role == model.UserRoleInstituteAdmin) && institute == "" {
		return fmt.Errorf("role %s needs --institute", role)
	}
	password := v.GetString("password")
	if password == "" {
		return fmt.Errorf("password is required: set --password flag or EXAMHALL_PASSWORD env var")
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	username := v.GetString("username")
	displayName := v.GetString("display-name")
	if displayName == "" {
		displayName = username
	}
	id, err := db.CreateUser(ctx, model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		Active:       true,
	}, []model.RoleGrant{{Role: role, InstituteID: institute}})
	if err != nil {
		return fmt.Errorf("create user %s: %w", username, err)
	}
	slog.Info("created user", "id", id, "username", username, "role", role, "institute", institute)
	return nil
}

// writeOutput writes v as indented JSON to outPath, or stdout for "-".
func writeOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
