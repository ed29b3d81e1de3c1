package otcctl

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/catalogfi/otc/pkg/escrow"
	"github.com/catalogfi/otc/pkg/otc"
	"github.com/catalogfi/otc/pkg/rpc"
	"github.com/catalogfi/otc/pkg/rpcclient"
	"github.com/catalogfi/otc/pkg/store"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type clientFactory func() rpcclient.Client

func Login(client clientFactory) *cobra.Command {
	var (
		key    string
		domain string
	)

	var cmd = &cobra.Command{
		Use:   "login",
		Short: "Sign in with a private key and print the issued token",
		Run: func(c *cobra.Command, args []string) {
			keyBytes, err := hex.DecodeString(strings.TrimPrefix(key, "0x"))
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to decode key: %w", err))
			}
			privKey, err := crypto.ToECDSA(keyBytes)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to parse key: %w", err))
			}
			token, err := client().SignIn(privKey, domain)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to sign in: %w", err))
			}
			color.Green("Signed in as %v", crypto.PubkeyToAddress(privKey.PublicKey).Hex())
			fmt.Println(token)
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().StringVar(&key, "key", os.Getenv("OTC_PRIVATE_KEY"), "hex encoded private key (default: $OTC_PRIVATE_KEY)")
	cmd.Flags().StringVar(&domain, "domain", "localhost", "domain the daemon expects in sign in messages")
	return cmd
}

func Create(client clientFactory) *cobra.Command {
	var (
		offer        []string
		ask          []string
		funds        []string
		counterparty string
		expiration   string
	)

	var cmd = &cobra.Command{
		Use:   "create",
		Short: "Create a position escrowing the offered items",
		Run: func(c *cobra.Command, args []string) {
			req := rpc.CreatePositionParams{}
			var err error
			if req.Offer, err = ParseItems(offer); err != nil {
				cobra.CheckErr(err)
			}
			if req.Ask, err = ParseItems(ask); err != nil {
				cobra.CheckErr(err)
			}
			if req.Funds, err = ParseFunds(funds); err != nil {
				cobra.CheckErr(err)
			}
			if counterparty != "" {
				req.Counterparty = &counterparty
			}
			if expiration != "" {
				t, err := time.Parse(time.RFC3339, expiration)
				if err != nil {
					cobra.CheckErr(fmt.Errorf("failed to parse expiration: %w", err))
				}
				req.Expiration = &t
			}

			resp, err := client().CreatePosition(req)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to create position: %w", err))
			}
			color.Green("Created position %d", resp.PositionID)
			printJSON(resp)
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().StringArrayVar(&offer, "offer", nil, "offered item as kind:target:value[:cliff:duration]")
	cmd.Flags().StringArrayVar(&ask, "ask", nil, "asked item as kind:target:value[:cliff:duration]")
	cmd.Flags().StringArrayVar(&funds, "funds", nil, "attached native funds as denom:amount")
	cmd.Flags().StringVar(&counterparty, "counterparty", "", "only address allowed to settle (default: anyone)")
	cmd.Flags().StringVar(&expiration, "expiration", "", "RFC3339 time after which the position can no longer be settled")
	cmd.MarkFlagRequired("offer")
	cmd.MarkFlagRequired("ask")
	return cmd
}

func Settle(client clientFactory) *cobra.Command {
	var (
		id    uint64
		funds []string
	)

	var cmd = &cobra.Command{
		Use:   "settle",
		Short: "Deposit the asked items and settle a position",
		Run: func(c *cobra.Command, args []string) {
			coins, err := ParseFunds(funds)
			if err != nil {
				cobra.CheckErr(err)
			}
			resp, err := client().SettlePosition(rpc.SettlePositionParams{Funds: coins, SettlePosition: escrow.SettlePosition{ID: id}})
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to settle position: %w", err))
			}
			color.Green("Settled position %d", id)
			printJSON(resp)
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().Uint64Var(&id, "id", 0, "position id")
	cmd.Flags().StringArrayVar(&funds, "funds", nil, "attached native funds as denom:amount")
	cmd.MarkFlagRequired("id")
	return cmd
}

func Claim(client clientFactory) *cobra.Command {
	var id uint64

	var cmd = &cobra.Command{
		Use:   "claim",
		Short: "Claim the vested part of a settled position",
		Run: func(c *cobra.Command, args []string) {
			resp, err := client().ClaimPosition(id)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to claim: %w", err))
			}
			color.Green("Claimed %d transfers from position %d", len(resp.Transfers), id)
			printJSON(resp)
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().Uint64Var(&id, "id", 0, "position id")
	cmd.MarkFlagRequired("id")
	return cmd
}

func Cancel(client clientFactory) *cobra.Command {
	var id uint64

	var cmd = &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a pending position and refund the offer",
		Run: func(c *cobra.Command, args []string) {
			resp, err := client().CancelPosition(id)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to cancel: %w", err))
			}
			color.Green("Cancelled position %d", id)
			printJSON(resp)
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().Uint64Var(&id, "id", 0, "position id")
	cmd.MarkFlagRequired("id")
	return cmd
}

func Get(client clientFactory) *cobra.Command {
	var (
		id        uint64
		partition string
	)

	var cmd = &cobra.Command{
		Use:   "get",
		Short: "Show a position",
		Run: func(c *cobra.Command, args []string) {
			p, err := otc.ParsePartition(partition)
			if err != nil {
				cobra.CheckErr(err)
			}
			position, err := client().GetPosition(escrow.GetPosition{ID: id, Partition: p})
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to get position: %w", err))
			}
			printJSON(position)
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().Uint64Var(&id, "id", 0, "position id")
	cmd.Flags().StringVar(&partition, "partition", "active", "active or executed")
	cmd.MarkFlagRequired("id")
	return cmd
}

func List(client clientFactory) *cobra.Command {
	var (
		partition    string
		owner        string
		counterparty string
		order        string
		limit        uint32
		startAfter   uint64
	)

	var cmd = &cobra.Command{
		Use:   "list",
		Short: "List positions, optionally by owner or counterparty",
		Run: func(c *cobra.Command, args []string) {
			p, err := otc.ParsePartition(partition)
			if err != nil {
				cobra.CheckErr(err)
			}
			o, err := store.ParseOrder(order)
			if err != nil {
				cobra.CheckErr(err)
			}
			page := store.Page{Order: o, Limit: limit}
			if c.Flags().Changed("start-after") {
				page.StartAfter = &startAfter
			}

			var positions []otc.Position
			switch {
			case owner != "":
				positions, err = client().ListPositionsByOwner(escrow.ListPositionsByOwner{Partition: p, Owner: owner, Page: page})
			case counterparty != "":
				positions, err = client().ListPositionsByCounterparty(escrow.ListPositionsByCounterparty{Partition: p, Counterparty: counterparty, Page: page})
			default:
				positions, err = client().ListPositions(escrow.ListPositions{Partition: p, Page: page})
			}
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to list positions: %w", err))
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "Owner", "Counterparty", "Offer", "Ask", "Status"})
			rows := make([]table.Row, len(positions))
			for i, position := range positions {
				rows[i] = table.Row{position.ID, position.Owner, position.Counterparty, describe(position.Offer), describe(position.Ask), position.Status}
			}
			t.AppendRows(rows)
			t.Render()
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().StringVar(&partition, "partition", "active", "active or executed")
	cmd.Flags().StringVar(&owner, "owner", "", "owner address to filter with (default: any)")
	cmd.Flags().StringVar(&counterparty, "counterparty", "", "counterparty address to filter with (default: any)")
	cmd.Flags().StringVar(&order, "order", "asc", "asc or desc")
	cmd.Flags().Uint32Var(&limit, "limit", store.DefaultLimit, "page size, at most 30")
	cmd.Flags().Uint64Var(&startAfter, "start-after", 0, "resume after this position id")
	return cmd
}

func describe(items []otc.Item) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, item.Info.String())
	}
	return strings.Join(parts, ", ")
}

func Config(client clientFactory) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "config",
		Short: "Show the escrow configuration",
		Run: func(c *cobra.Command, args []string) {
			cfg, err := client().GetConfig()
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to get config: %w", err))
			}
			printJSON(cfg)
		},
		DisableAutoGenTag: true,
	}
	return cmd
}

func UpdateFee(client clientFactory) *cobra.Command {
	var (
		ratio     string
		collector string
		flat      []string
	)

	var cmd = &cobra.Command{
		Use:   "update-fee",
		Short: "Replace the fee policy (owner only)",
		Run: func(c *cobra.Command, args []string) {
			r, err := otc.ParseRatio(ratio)
			if err != nil {
				cobra.CheckErr(err)
			}
			fee := otc.Fee{Ratio: r, Collector: otc.Address(collector)}
			for _, raw := range flat {
				spec, err := ParseItem(raw)
				if err != nil {
					cobra.CheckErr(err)
				}
				fee.Flat = append(fee.Flat, spec.Info)
			}
			resp, err := client().UpdateFee(fee)
			if err != nil {
				cobra.CheckErr(fmt.Errorf("failed to update fee: %w", err))
			}
			color.Green("Fee updated")
			printJSON(resp)
		},
		DisableAutoGenTag: true,
	}

	cmd.Flags().StringVar(&ratio, "ratio", "", "proportional fee in (0, 1]")
	cmd.Flags().StringVar(&collector, "collector", "", "fee collector address")
	cmd.Flags().StringArrayVar(&flat, "flat", nil, "flat fee item as kind:target:value")
	cmd.MarkFlagRequired("ratio")
	cmd.MarkFlagRequired("collector")
	return cmd
}
