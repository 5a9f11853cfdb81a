package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pbk-go/internal/app"
	"pbk-go/internal/config"
	"pbk-go/internal/device"
	"pbk-go/internal/encryption"
	"pbk-go/internal/pbk"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults. It returns the
// path so commands that edit the config can save it back.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

// newApp reads the config and creates a PBKApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "backup", "restore").
func newApp(operation string) (*app.PBKApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewPBKApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// stdinLines is shared so consecutive prompts fed from a pipe each get
// their own line.
var stdinLines = bufio.NewReader(os.Stdin)

// readPassphrase prompts on stderr and reads a line without echo when
// stdin is a terminal.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(b), nil
	}
	line, err := stdinLines.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Flag values, bound in init.
var (
	projectAdd              projectAddFlags
	deviceAdd               config.DeviceConfig
	backupResetCorruptIndex bool
	restoreStep             string
	historyLimit            int
)

type projectAddFlags struct {
	status      string
	ignore      []string
	requirement string
	copies      int
	locations   int
	minSecurity string
}

// projectConfig builds the config entry for a new project from the flags.
func (f projectAddFlags) projectConfig(name, path string) (config.ProjectConfig, error) {
	pc := config.ProjectConfig{
		Name:   name,
		Path:   path,
		Status: f.status,
		Ignore: f.ignore,
	}
	pc.Requirement.Name = f.requirement
	pc.Requirement.TargetCopies = f.copies
	pc.Requirement.TargetLocations = f.locations
	pc.Requirement.MinSecurityLevel = f.minSecurity
	if f.minSecurity != "" {
		if _, err := pbk.ParseSecurityLevel(f.minSecurity); err != nil {
			return config.ProjectConfig{}, err
		}
	}
	return pc, nil
}

var rootCmd = &cobra.Command{
	Use:          "pbk",
	Short:        "Personal backup tool: differential project backups to secondary devices",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Host ID:  %s\n", cfg.HostID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Database: %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Keys:     %s, %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		if len(cfg.Filesystem.Ignore) > 0 {
			fmt.Printf("Ignore:   %s\n", strings.Join(cfg.Filesystem.Ignore, " "))
		}
		fmt.Printf("Devices:  %d\n", len(cfg.Devices))
		fmt.Printf("Projects: %d\n", len(cfg.Projects))
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var configKeysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the key pair used by encrypted devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("encryption keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return errors.New("passphrases do not match")
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// project command
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add NAME PATH",
	Short: "Track a directory as a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		pc, err := projectAdd.projectConfig(args[0], args[1])
		if err != nil {
			return err
		}

		if err := cfg.AddProject(pc); err != nil {
			return err
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Tracking project %s at %s\n", pc.Name, pc.Path)
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Stop tracking a project (backups on devices are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RemoveProject(args[0]); err != nil {
			return err
		}
		return config.Save(path, cfg)
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.Projects) == 0 {
			fmt.Println("No projects configured.")
			return nil
		}
		var rows [][]string
		for _, p := range cfg.Projects {
			status := p.Status
			if status == "" {
				status = string(pbk.Tracked)
			}
			rows = append(rows, []string{p.Name, status, p.Path, strings.Join(p.Ignore, " ")})
		}
		return writeTable(os.Stdout, []string{"Project", "Status", "Path", "Ignore"}, rows)
	},
}

// device command
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage devices",
}

var deviceAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		dc := deviceAdd
		dc.Name = args[0]

		if err := cfg.AddDevice(dc); err != nil {
			return err
		}

		// Construct the device once to validate the settings.
		var enc pbk.Encryptor
		if dc.Encrypted {
			if enc, err = encryption.NewEncryptorFromConfig(cfg.Encryption); err != nil {
				return err
			}
		}
		if _, err := device.NewDeviceFromConfig(dc, enc, pbk.RealClock{}); err != nil {
			return err
		}
		if dc.Type == "filesystem" {
			fsd := device.NewFileSystemDevice(afero.NewOsFs(), dc.FSRoot, device.Options{Name: dc.Name})
			if err := fsd.Initialize(); err != nil {
				return err
			}
		}

		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Added %s device %s\n", dc.Type, dc.Name)
		return nil
	},
}

var deviceRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Forget a device (its contents are left in place)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RemoveDevice(args[0]); err != nil {
			return err
		}
		return config.Save(path, cfg)
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("device list")
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.Config()
		if len(cfg.Devices) == 0 {
			fmt.Println("No devices configured.")
			return nil
		}
		var rows [][]string
		for _, dc := range cfg.Devices {
			d, err := a.Device(dc.Name)
			if err != nil {
				rows = append(rows, []string{dc.Name, dc.Type, dc.Location, dc.SecurityLevel, strconv.FormatBool(dc.Encrypted), err.Error()})
				continue
			}
			state := "available"
			if err := d.TestAvailability(); err != nil {
				state = "unavailable: " + err.Error()
			}
			rows = append(rows, []string{
				d.Name(), d.TypeName(), d.Location(), d.SecurityLevel().String(), strconv.FormatBool(dc.Encrypted), state,
			})
		}
		return writeTable(os.Stdout, []string{"Device", "Type", "Location", "Security", "Encrypted", "State"}, rows)
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup PROJECT DEVICE",
	Short: "Back up a project to a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("backup")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Backup(args[0], args[1], backupResetCorruptIndex)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Step %s: %d changed (%s), %d unchanged, %d deleted, %d ignored\n",
			result.Step,
			len(result.Added),
			humanize.Bytes(result.Bytes),
			result.Unchanged,
			len(result.Deleted),
			result.Ignored,
		)
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore PROJECT DEVICE DESTINATION",
	Short: "Restore a project from a device into an empty directory",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("restore")
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if a.DeviceEncrypted(args[1]) {
			if passphrase, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		result, err := a.Restore(args[0], args[1], args[2], restoreStep, passphrase)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		for _, s := range result.Steps {
			fmt.Printf("  %s  %d of %d\n", s.Step, len(s.Extracted), s.Requested)
		}
		fmt.Printf("Restored %d path(s) to %s\n", result.Restored, args[2])
		if !result.Complete() {
			for _, p := range result.Missing {
				fmt.Printf("  missing: %s\n", p)
			}
			return result.Err()
		}
		return nil
	},
}

// steps command
var stepsCmd = &cobra.Command{
	Use:   "steps PROJECT DEVICE",
	Short: "List the steps of a project on a device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("steps")
		if err != nil {
			return err
		}
		defer a.Close()

		steps, err := a.ListSteps(args[0], args[1])
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			fmt.Println("No steps.")
			return nil
		}
		for _, s := range steps {
			fmt.Println(s)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View backup and restore history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.GetHistory(historyLimit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		var rows [][]string
		for _, r := range runs {
			duration := ""
			if !r.FinishedAt.IsZero() {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			rows = append(rows, []string{
				r.Operation,
				r.Project,
				r.Device,
				humanize.Time(r.StartedAt),
				r.Status,
				duration,
				strconv.Itoa(r.Added),
				humanize.Bytes(uint64(r.Bytes)),
				r.Error,
			})
		}
		return writeTable(os.Stdout, []string{"Operation", "Project", "Device", "Started", "Status", "Duration", "Changed", "Size", "Error"}, rows)
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status [PROJECT]",
	Short: "Compare project copies against their requirements",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("status")
		if err != nil {
			return err
		}
		defer a.Close()

		var name string
		if len(args) > 0 {
			name = args[0]
		}
		statuses, err := a.Status(name)
		if err != nil {
			return err
		}

		for _, st := range statuses {
			if err := printStatus(os.Stdout, st); err != nil {
				return err
			}
		}
		return nil
	},
}

func printStatus(w io.Writer, st *pbk.ProjectStatus) error {
	verdict := "ok"
	if !st.Satisfied() {
		verdict = "NEEDS BACKUP"
	}
	if st.Requirement == nil {
		fmt.Fprintf(w, "%s (%s): %d copies\n", st.Project, st.Tracking, st.Copies)
	} else {
		fmt.Fprintf(w, "%s [%s]: %d/%d copies, %d/%d locations, min security %s: %s\n",
			st.Project, st.Requirement.Name,
			st.Copies, st.Requirement.TargetCopies,
			st.Locations, st.Requirement.TargetLocations,
			st.Requirement.MinSecurityLevel,
			verdict)
	}

	var rows [][]string
	for _, d := range st.Devices {
		var steps, last, note string
		switch {
		case !d.Available:
			note = "unavailable: " + d.Problem
		case d.Problem != "":
			note = d.Problem
		case !d.HasBackup:
			note = "no backup"
		default:
			steps = strconv.Itoa(d.Steps)
			last = "never from this host"
			if d.LastBackup != nil {
				last = humanize.Time(d.LastBackup.FinishedAt)
			}
			if d.BelowMinimum {
				note = "below minimum security"
			}
		}
		rows = append(rows, []string{d.Device, d.Location, d.SecurityLevel.String(), steps, last, note})
	}
	return writeTable(w, []string{"Device", "Location", "Security", "Steps", "Last Backup", "Note"}, rows)
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configKeysCmd.AddCommand(configKeysInitCmd)

	// project subcommands
	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
	projectAddCmd.Flags().StringVar(&projectAdd.status, "status", "", "tracked, untracked or ignored")
	projectAddCmd.Flags().StringSliceVar(&projectAdd.ignore, "ignore", nil, "Ignore pattern (repeatable)")
	projectAddCmd.Flags().StringVar(&projectAdd.requirement, "requirement", "", "Requirement class name")
	projectAddCmd.Flags().IntVar(&projectAdd.copies, "copies", 0, "Target number of copies, including the primary")
	projectAddCmd.Flags().IntVar(&projectAdd.locations, "locations", 0, "Target number of distinct locations")
	projectAddCmd.Flags().StringVar(&projectAdd.minSecurity, "min-security", "", "Minimum device security level")

	// device subcommands
	deviceCmd.AddCommand(deviceAddCmd)
	deviceCmd.AddCommand(deviceRemoveCmd)
	deviceCmd.AddCommand(deviceListCmd)
	deviceAddCmd.Flags().StringVar(&deviceAdd.Type, "type", "filesystem", "filesystem, memory or s3")
	deviceAddCmd.Flags().StringVar(&deviceAdd.Location, "location", "", "Physical location (defaults to the device name)")
	deviceAddCmd.Flags().StringVar(&deviceAdd.SecurityLevel, "security-level", "", "Security level (defaults per type)")
	deviceAddCmd.Flags().StringVar(&deviceAdd.Compression, "compression", "", "zstd (default), gzip or none")
	deviceAddCmd.Flags().BoolVar(&deviceAdd.Encrypted, "encrypted", false, "Encrypt step archives with the configured key pair")
	deviceAddCmd.Flags().StringVar(&deviceAdd.FSRoot, "root", "", "Root directory (filesystem devices)")
	deviceAddCmd.Flags().StringVar(&deviceAdd.S3Bucket, "bucket", "", "Bucket (s3 devices)")
	deviceAddCmd.Flags().StringVar(&deviceAdd.S3Prefix, "prefix", "", "Key prefix (s3 devices)")
	deviceAddCmd.Flags().StringVar(&deviceAdd.S3Region, "region", "", "Region (s3 devices)")
	deviceAddCmd.Flags().StringVar(&deviceAdd.S3Endpoint, "endpoint", "", "Endpoint URL for S3-compatible services")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().BoolVar(&backupResetCorruptIndex, "reset-corrupt-index", false, "Start from an empty index if the device's index is corrupt")
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().StringVar(&restoreStep, "step", "", "Restore the state recorded by this step instead of the latest")
	rootCmd.AddCommand(stepsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of runs to show")
	rootCmd.AddCommand(statusCmd)
}
