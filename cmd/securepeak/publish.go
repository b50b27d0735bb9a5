package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/securepeak/internal/publisher"
	"github.com/jgoulah/securepeak/pkg/models"
)

var (
	publishAll   bool
	publishLimit int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish decrypted readings to Home Assistant and MQTT",
	Long: `Reads decrypted readings from the local database and publishes them to Home Assistant
via HTTP API and/or MQTT. Readings are marked as published so the next run only sends new ones.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().BoolVar(&publishAll, "all", false, "Force republish all readings (ignore published flag)")
	publishCmd.Flags().IntVar(&publishLimit, "limit", 0, "Limit number of readings to publish (0 = no limit)")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	// Check if any target is configured
	if !a.cfg.HomeAssistant.Enabled && !a.cfg.MQTT.Enabled {
		return fmt.Errorf("neither Home Assistant nor MQTT is enabled in config")
	}

	d := a.session.Descriptor()
	if !d.IsDeployed() {
		return errors.New(a.session.Message())
	}

	pub, err := publisher.New(a.cfg.MQTT, a.cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	if publishLimit > 0 {
		fmt.Printf("Limiting to %d readings (--limit flag)\n", publishLimit)
	}

	report, err := pub.PublishPending(a.db, publisher.PendingOptions{
		ChainID:  d.ChainID,
		Contract: d.Address.Hex(),
		All:      publishAll,
		Limit:    publishLimit,
		Progress: func(i, total int, r models.DecryptedReading, err error) {
			fmt.Printf("[%d/%d] Publishing record %d (%d kWh)... ", i, total, r.RecordID, r.Consumption)
			if err != nil {
				fmt.Printf("FAILED: %v\n", err)
				return
			}
			fmt.Printf("✓\n")
		},
	})
	if err != nil {
		return err
	}

	if report.Total == 0 {
		if publishAll {
			fmt.Println("No decrypted readings found")
		} else {
			fmt.Println("No unpublished readings found")
		}
		return nil
	}

	fmt.Printf("\nTotal readings published: %d/%d\n", report.Published, report.Total)
	if report.Failed > 0 {
		return fmt.Errorf("%d readings failed to publish", report.Failed)
	}
	return nil
}
