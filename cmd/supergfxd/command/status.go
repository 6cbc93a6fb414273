package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/asus-linux/supergfxd/pkg/systemd"
)

const statusTimeout = 5 * time.Second

// serviceUnit is the systemd unit name cmd/supergfxd/command/run.go's
// sd_notify calls are expected to run under.
const serviceUnit = "supergfxd.service"

func cmdStatus(cliContext *cli.Context) error {
	client := &http.Client{Timeout: statusTimeout}
	base := "http://" + listenAddress

	var mode struct {
		Mode v1.Mode `json:"mode"`
	}
	if err := getJSON(client, base+"/v1/mode", &mode); err != nil {
		return fmt.Errorf("GET /v1/mode: %w", err)
	}

	var supported struct {
		Supported []v1.Mode `json:"supported"`
	}
	if err := getJSON(client, base+"/v1/supported", &supported); err != nil {
		return fmt.Errorf("GET /v1/supported: %w", err)
	}

	var vendor struct {
		Vendor v1.Vendor `json:"vendor"`
	}
	if err := getJSON(client, base+"/v1/vendor", &vendor); err != nil {
		return fmt.Errorf("GET /v1/vendor: %w", err)
	}

	var power struct {
		PowerStatus v1.PowerStatus `json:"power_status"`
	}
	if err := getJSON(client, base+"/v1/power-status", &power); err != nil {
		return fmt.Errorf("GET /v1/power-status: %w", err)
	}

	var pending struct {
		Pending bool   `json:"pending"`
		Mode    v1.Mode `json:"mode"`
	}
	if err := getJSON(client, base+"/v1/pending", &pending); err != nil {
		return fmt.Errorf("GET /v1/pending: %w", err)
	}

	var cfg v1.Config
	if err := getJSON(client, base+"/v1/config", &cfg); err != nil {
		return fmt.Errorf("GET /v1/config: %w", err)
	}

	var version struct {
		Version string `json:"version"`
	}
	if err := getJSON(client, base+"/v1/version", &version); err != nil {
		return fmt.Errorf("GET /v1/version: %w", err)
	}

	table := tablewriter.NewWriter(cliContext.App.Writer)
	table.SetHeader([]string{"field", "value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	pendingValue := "none"
	if pending.Pending {
		pendingValue = string(pending.Mode)
	}

	table.Append([]string{"daemon version", version.Version})
	table.Append([]string{"current mode", string(mode.Mode)})
	table.Append([]string{"supported modes", joinModes(supported.Supported)})
	table.Append([]string{"dgpu vendor", string(vendor.Vendor)})
	table.Append([]string{"dgpu power status", string(power.PowerStatus)})
	table.Append([]string{"pending transition", pendingValue})
	table.Append([]string{"hotplug type", string(cfg.HotplugType)})
	table.Append([]string{"vfio enable / save", fmt.Sprintf("%t / %t", cfg.VfioEnable, cfg.VfioSave)})
	table.Append([]string{"always reboot / no logind", fmt.Sprintf("%t / %t", cfg.AlwaysReboot, cfg.NoLogind)})
	table.Append([]string{"logout timeout", humanize.RelTime(time.Now(), time.Now().Add(cfg.LogoutTimeout.Duration), "", "")})
	table.Append([]string{"asus settle delay", cfg.AsusSettleDelay.Duration.String()})

	table.Render()

	if showLogs {
		if !systemd.JournalctlExists() {
			fmt.Fprintln(cliContext.App.Writer, "\njournalctl not found, skipping logs")
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
		defer cancel()
		logs, err := systemd.GetLatestJournalctlOutput(ctx, serviceUnit)
		if err != nil {
			return fmt.Errorf("reading %s journal: %w", serviceUnit, err)
		}
		fmt.Fprintf(cliContext.App.Writer, "\n--- %s (tail) ---\n%s\n", serviceUnit, logs)
	}
	return nil
}

func joinModes(modes []v1.Mode) string {
	if len(modes) == 0 {
		return "none"
	}
	out := string(modes[0])
	for _, m := range modes[1:] {
		out += ", " + string(m)
	}
	return out
}

func getJSON(client *http.Client, url string, dst interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, buf.String())
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
