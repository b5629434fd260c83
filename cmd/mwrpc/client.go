package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/mwrpc/internal/device"
	"github.com/srg/mwrpc/pkg/client"
)

// call is what a client command does once connected.
type call func(ctx context.Context, c *client.Client, cmd *cobra.Command, addr device.Address, args []string) error

func clientCommands() []*cobra.Command {
	return []*cobra.Command{
		newClientCmd("model <address>", "Print a board's model", 0, runModel),
		newClientCmd("battery <address>", "Print a board's battery level", 0, runBattery),
		newClientCmd("motor <address> <duration> <intensity>", "Pulse the vibration motor once", 2, runMotor),
		newClientCmd("pattern <address> <duration> <intensity> <delay> <iterations>",
			"Repeat motor pulses, replacing any running pattern", 4, runPattern),
		newClientCmd("buzzer <address> <duration>", "Sound the buzzer", 1, runBuzzer),
		newClientCmd("led-start <address> <green|red|blue>", "Light the LED", 1, runStartLED),
		newClientCmd("led-stop <address>", "Stop the LED", 0, runStopLED),
	}
}

func newClientCmd(use, short string, extra int, fn call) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

Durations accept Go syntax ("250ms", "2s") or plain milliseconds. Intensity
is a percentage and is clamped to 0..100 by the daemon. A board that is not
connected is not an error: reads return zero values and effects are dropped.`,
		Args: cobra.ExactArgs(1 + extra),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, args, fn)
		},
	}
	cmd.Flags().String("server", "", "Daemon address (default from config, 127.0.0.1:8080)")
	cmd.Flags().Duration("timeout", 10*time.Second, "Call timeout")
	return cmd
}

func runClient(cmd *cobra.Command, args []string, fn call) error {
	addr, err := device.ParseAddress(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	server := cfg.Listen
	if s, _ := cmd.Flags().GetString("server"); s != "" {
		server = s
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := client.Dial(ctx, server, logger)
	if err != nil {
		cmd.SilenceUsage = true
		return err
	}
	defer c.Close()

	return fn(ctx, c, cmd, addr, args[1:])
}

func runModel(ctx context.Context, c *client.Client, cmd *cobra.Command, addr device.Address, _ []string) error {
	cmd.SilenceUsage = true
	model, err := c.Model(ctx, addr)
	if err != nil {
		return err
	}
	if model == "" {
		model = "(unavailable)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", addr, model)
	return nil
}

func runBattery(ctx context.Context, c *client.Client, cmd *cobra.Command, addr device.Address, _ []string) error {
	cmd.SilenceUsage = true
	level, err := c.Battery(ctx, addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d%%\n", addr, level)
	return nil
}

func runMotor(ctx context.Context, c *client.Client, cmd *cobra.Command, addr device.Address, args []string) error {
	duration, err := parseDuration(args[0])
	if err != nil {
		return err
	}
	intensity, err := parseIntensity(args[1])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	return c.StartMotor(ctx, addr, duration, intensity)
}

func runPattern(ctx context.Context, c *client.Client, cmd *cobra.Command, addr device.Address, args []string) error {
	duration, err := parseDuration(args[0])
	if err != nil {
		return err
	}
	intensity, err := parseIntensity(args[1])
	if err != nil {
		return err
	}
	delay, err := parseDuration(args[2])
	if err != nil {
		return err
	}
	iterations, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("invalid iterations %q", args[3])
	}
	cmd.SilenceUsage = true
	return c.StartMotorPattern(ctx, addr, duration, intensity, delay, iterations)
}

func runBuzzer(ctx context.Context, c *client.Client, cmd *cobra.Command, addr device.Address, args []string) error {
	duration, err := parseDuration(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	return c.StartBuzzer(ctx, addr, duration)
}

func runStartLED(ctx context.Context, c *client.Client, cmd *cobra.Command, addr device.Address, args []string) error {
	color, err := parseColor(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	return c.StartLED(ctx, addr, color)
}

func runStopLED(ctx context.Context, c *client.Client, cmd *cobra.Command, addr device.Address, _ []string) error {
	cmd.SilenceUsage = true
	return c.StopLED(ctx, addr)
}

// parseDuration accepts "250ms"-style durations or bare milliseconds.
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid duration %q: must not be negative", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func parseIntensity(s string) (float32, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 32)
	if err != nil {
		return 0, fmt.Errorf("invalid intensity %q", s)
	}
	return float32(v), nil
}

func parseColor(s string) (device.LEDColor, error) {
	for _, c := range []device.LEDColor{device.LEDGreen, device.LEDRed, device.LEDBlue} {
		if strings.EqualFold(s, c.String()) || s == strconv.Itoa(int(c)) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("invalid color %q: must be green, red or blue", s)
}
