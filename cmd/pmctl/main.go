package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/term"

	apiclient "github.com/splax/pmdesk/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL   string `json:"api_base_url"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

const defaultAPIBase = "http://localhost:4000"

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "budget":
		err = commandBudget(args)
	case "expense":
		err = commandExpense(args)
	case "alerts":
		err = commandAlerts(args)
	case "capacity":
		err = commandCapacity(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPIBase+")")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}

	secret := strings.TrimSpace(*password)
	if secret == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Login(ctx, *email, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Tokens.AccessToken
	cfg.RefreshToken = resp.Tokens.RefreshToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("logged in as %s (%s)\n", resp.User.Email, resp.User.Role)
	return nil
}

// session loads the saved config and returns a client with its access token.
func session() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'pmctl login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func commandBudget(args []string) error {
	if len(args) == 0 || args[0] != "show" {
		return errors.New("usage: pmctl budget show --project <project-id>")
	}
	fs := flag.NewFlagSet("budget show", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	fs.Parse(args[1:])

	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	report, err := client.BudgetStatus(ctx, token, *projectID)
	if err != nil {
		return err
	}
	printReport(report.Project.Name, report.Budget, report.Status)
	return nil
}

func commandExpense(args []string) error {
	if len(args) == 0 || args[0] != "log" {
		return errors.New("usage: pmctl expense log --project <project-id> --amount <amount>")
	}
	fs := flag.NewFlagSet("expense log", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier")
	amount := fs.String("amount", "", "Expense amount, e.g. 150.50")
	description := fs.String("description", "", "Optional description")
	key := fs.String("key", "", "Idempotency key (generated when omitted)")
	fs.Parse(args[1:])

	if strings.TrimSpace(*projectID) == "" {
		return errors.New("--project is required")
	}
	value, err := decimal.NewFromString(strings.TrimSpace(*amount))
	if err != nil {
		return fmt.Errorf("--amount must be a number: %w", err)
	}
	idempotencyKey := strings.TrimSpace(*key)
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	result, err := client.LogExpense(ctx, token, apiclient.ExpenseInput{
		ProjectID:      *projectID,
		Amount:         value,
		Description:    *description,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return err
	}
	if result.Replayed {
		fmt.Printf("expense %s already recorded (key %s)\n", result.Expense.ID, idempotencyKey)
	} else {
		fmt.Printf("expense recorded: %s (key %s)\n", result.Expense.ID, idempotencyKey)
	}
	printReport("", result.Budget, result.Status)
	if result.Alert != nil {
		fmt.Printf("ALERT [%s]: %s\n", result.Alert.Type, result.Alert.Message)
	}
	return nil
}

func commandAlerts(args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	fs.Parse(args)

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reports, err := client.Alerts(ctx, token)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("no budget alerts")
		return nil
	}
	for _, r := range reports {
		fmt.Printf("%s\t%s\t%s\t%.1f%%\t%s %s / %s\n",
			r.Project.ID,
			r.Project.Name,
			r.Status.Status,
			r.Status.Percentage,
			r.Budget.Currency,
			r.Budget.Spent.StringFixed(2),
			r.Budget.Planned.StringFixed(2),
		)
	}
	return nil
}

func commandCapacity(args []string) error {
	fs := flag.NewFlagSet("capacity", flag.ExitOnError)
	fs.Parse(args)

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	capacity, err := client.Capacity(ctx, token)
	if err != nil {
		return err
	}
	pm := capacity.PM
	fmt.Printf("projects: %d/%d active, %d slots free (%.1f%% utilised)\n",
		pm.ActiveProjects, pm.MaxProjects, pm.AvailableSlots, pm.UtilizationPercentage)
	fmt.Printf("team leader: %d active, can lead another: %t\n",
		capacity.TeamLeader.ActiveProjects, capacity.TeamLeader.CanLead)
	return nil
}

func printReport(name string, budget apiclient.Budget, status apiclient.BudgetStatus) {
	if name != "" {
		fmt.Printf("project:   %s\n", name)
	}
	fmt.Printf("planned:   %s %s\n", budget.Currency, budget.Planned.StringFixed(2))
	fmt.Printf("spent:     %s %s\n", budget.Currency, budget.Spent.StringFixed(2))
	fmt.Printf("remaining: %s %s\n", budget.Currency, status.Remaining.StringFixed(2))
	fmt.Printf("status:    %s (%.1f%%, alert at %d%%)\n", status.Status, status.Percentage, budget.AlertThreshold)
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{APIBaseURL: defaultAPIBase}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv("PMCTL_CONFIG")); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "pmctl", "config.json"), nil
}

func printUsage() {
	fmt.Printf("pmctl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	pmctl login --email user@example.com [--password secret] [--api http://localhost:4000]
	pmctl budget show --project <project-id>
	pmctl expense log --project <project-id> --amount 150.50 [--description text] [--key idempotency-key]
	pmctl alerts
	pmctl capacity
	pmctl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
