package main

import (
	"fmt"

	"github.com/relaydeck/relaydeck/internal/timetoken"
	"github.com/spf13/cobra"
)

var timetokenCmd = &cobra.Command{
	Use:   "timetoken",
	Short: "Convert between timetokens and wall-clock time",
}

var timetokenToCivilCmd = &cobra.Command{
	Use:   "to-civil <timetoken>",
	Short: "Convert a timetoken to wall-clock time in a timezone",
	Long: `Convert a timetoken to a civil date and time in an IANA timezone.

Examples:
  relaydeck timetoken to-civil 16966540800000000
  relaydeck timetoken to-civil 16966540800000000 --zone America/New_York`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		zone, _ := cmd.Flags().GetString("zone")
		return timetokenToCivil(args[0], zone)
	},
}

var timetokenFromCivilCmd = &cobra.Command{
	Use:   "from-civil <YYYY-MM-DD> <HH:MM:SS>",
	Short: "Convert wall-clock time in a timezone to a timetoken",
	Long: `Convert a civil date and time in an IANA timezone to a timetoken.

Examples:
  relaydeck timetoken from-civil 2023-10-07 04:48:00
  relaydeck timetoken from-civil 2023-10-07 00:48:00 --zone America/New_York`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		zone, _ := cmd.Flags().GetString("zone")
		return timetokenFromCivil(args[0], args[1], zone)
	},
}

var timetokenNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Print the current time as a timetoken",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := timetoken.Now()
		if output == "json" {
			return printJSON(map[string]interface{}{"timetoken": now, "unix_ms": now.Millis()})
		}
		fmt.Println(now)
		return nil
	},
}

func init() {
	timetokenCmd.AddCommand(timetokenToCivilCmd)
	timetokenCmd.AddCommand(timetokenFromCivilCmd)
	timetokenCmd.AddCommand(timetokenNowCmd)

	timetokenToCivilCmd.Flags().StringP("zone", "z", "UTC", "IANA timezone name")
	timetokenFromCivilCmd.Flags().StringP("zone", "z", "UTC", "IANA timezone name")
}

func timetokenToCivil(raw, zone string) error {
	tt, err := timetoken.Parse(raw)
	if err != nil {
		return err
	}
	civil, err := timetoken.ToCivil(tt, zone)
	if err != nil {
		return err
	}
	if output == "json" {
		return printJSON(civil)
	}
	fmt.Printf("%04d-%02d-%02d %02d:%02d:%02d %s\n",
		civil.Year, civil.Month, civil.Day,
		civil.Hour, civil.Minute, civil.Second, civil.Zone)
	return nil
}

func timetokenFromCivil(date, clock, zone string) error {
	var civil timetoken.CivilTime
	if _, err := fmt.Sscanf(date, "%d-%d-%d", &civil.Year, &civil.Month, &civil.Day); err != nil {
		return fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", date, err)
	}
	if _, err := fmt.Sscanf(clock, "%d:%d:%d", &civil.Hour, &civil.Minute, &civil.Second); err != nil {
		return fmt.Errorf("invalid time %q, want HH:MM:SS: %w", clock, err)
	}
	civil.Zone = zone

	tt, err := timetoken.FromCivil(civil)
	if err != nil {
		return err
	}
	if output == "json" {
		return printJSON(map[string]interface{}{"timetoken": tt, "civil": civil})
	}
	fmt.Println(tt)
	return nil
}
