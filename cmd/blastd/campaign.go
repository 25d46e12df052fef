package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/store"
)

var (
	campaignListStatus string
	campaignListLimit  int
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign inspection commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show campaign details and delivery counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

func init() {
	campaignListCmd.Flags().StringVar(&campaignListStatus, "status", "", "Filter by status (draft, queued, sending, completed, failed, cancelled)")
	campaignListCmd.Flags().IntVar(&campaignListLimit, "limit", 50, "Maximum number of campaigns to show")

	campaignCmd.AddCommand(campaignListCmd, campaignShowCmd)
	rootCmd.AddCommand(campaignCmd)
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	campaigns, total, err := store.NewCampaignRepository(db).List(models.CampaignListFilter{
		Status: models.CampaignStatus(campaignListStatus),
		Limit:  campaignListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if len(campaigns) == 0 {
		fmt.Println("No campaigns")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTYPE\tCREATED")
	fmt.Fprintln(w, "--\t----\t------\t----\t-------")
	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Name, c.Status, c.MessageType,
			c.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()

	fmt.Printf("\n%d of %d campaigns\n", len(campaigns), total)
	return nil
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := store.NewCampaignRepository(db).GetByID(args[0])
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", args[0])
	}

	fmt.Printf("Campaign %s\n", c.ID)
	fmt.Printf("  Name:    %s\n", c.Name)
	fmt.Printf("  Account: %s\n", c.AccountID)
	fmt.Printf("  Type:    %s\n", c.MessageType)
	fmt.Printf("  Status:  %s\n", c.Status)
	fmt.Printf("  Created: %s by %s\n", c.CreatedAt.Format("2006-01-02 15:04"), c.CreatedBy)
	if c.ScheduleAt != nil {
		fmt.Printf("  Scheduled: %s\n", c.ScheduleAt.Format("2006-01-02 15:04"))
	}

	stats, err := store.NewRecipientRepository(db).Stats(c.ID)
	if err != nil {
		return err
	}
	fmt.Printf("  Recipients: %d total, %d pending, %d sent, %d delivered, %d read, %d failed\n",
		stats.Total, stats.Pending, stats.Sent, stats.Delivered, stats.Read, stats.Failed)

	return nil
}
