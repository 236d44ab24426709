// Relay Controller History CLI
// Provides read-only command-line access to the relay history journal
package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agsys/relay-controller/internal/storage"
)

var (
	dbPath  string
	rootCmd = &cobra.Command{
		Use:   "relay-db",
		Short: "Relay Controller History CLI",
		Long:  "Command-line tool for inspecting the relay controller history journal.",
	}

	eventsCmd = &cobra.Command{
		Use:   "events [relay-id]",
		Short: "Show relay state changes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showEvents,
	}

	schedulesCmd = &cobra.Command{
		Use:   "schedules [relay-id]",
		Short: "Show schedule changes",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showSchedules,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show journal statistics",
		RunE:  showStats,
	}

	queryCmd = &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw SQL query",
		Args:  cobra.ExactArgs(1),
		RunE:  executeQuery,
	}

	limit int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/relayctl/history.db", "Database file path")

	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	schedulesCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")

	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(schedulesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*storage.DB, error) {
	return storage.OpenReadOnly(dbPath)
}

func relayArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func showEvents(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	events, err := db.GetRelayEvents(relayArg(args), limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RELAY\tFROM\tTO\tSOURCE\tTIME")
	fmt.Fprintln(w, "-----\t----\t--\t------\t----")

	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.RelayID, e.PrevState, e.NewState, e.Source, e.Timestamp.Format("01-02 15:04:05"))
	}
	w.Flush()
	return nil
}

func showSchedules(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	changes, err := db.GetScheduleChanges(relayArg(args), limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RELAY\tACTION\tRULE\tTIME")
	fmt.Fprintln(w, "-----\t------\t----\t----")

	for _, c := range changes {
		ruleStr := c.RuleJSON
		if ruleStr == "" {
			ruleStr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.RelayID, c.Action, ruleStr, c.Timestamp.Format("01-02 15:04:05"))
	}
	w.Flush()
	return nil
}

func showStats(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Journal Statistics")
	fmt.Fprintln(out, "==================")
	fmt.Fprintf(out, "Relay events: %d\n", stats.RelayEvents)
	fmt.Fprintf(out, "Schedule changes: %d\n", stats.ScheduleChanges)
	if stats.RelayEvents > 0 {
		fmt.Fprintf(out, "Span: %s .. %s\n",
			stats.FirstEvent.Format("2006-01-02 15:04"), stats.LastEvent.Format("2006-01-02 15:04"))
	}
	return nil
}

func executeQuery(cmd *cobra.Command, args []string) error {
	query := args[0]

	// Only allow SELECT queries
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))

	values := make([]interface{}, len(cols))
	valuePtrs := make([]interface{}, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}

		var row []string
		for _, v := range values {
			switch val := v.(type) {
			case nil:
				row = append(row, "NULL")
			case []byte:
				row = append(row, string(val))
			default:
				row = append(row, fmt.Sprintf("%v", val))
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	return rows.Err()
}
