package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"widowx"
)

const (
	flagConfig   = "config"
	flagPort     = "port"
	flagDuration = "duration"
	flagRelax    = "relax"
	flagDirect   = "direct"
	flagX        = "x"
	flagY        = "y"
	flagZ        = "z"
	flagGamma    = "gamma"
)

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("widowx"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	return newApp(logger).RunContext(ctx, args)
}

func newApp(logger logging.Logger) *cli.App {
	durationFlag := &cli.DurationFlag{
		Name:  flagDuration,
		Usage: "motion duration, 0 for the configured default",
	}

	return &cli.App{
		Name:  "widowx",
		Usage: "drive a WidowX arm over its servo bus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagConfig,
				Usage: "path to a JSON config file",
			},
			&cli.StringFlag{
				Name:  flagPort,
				Usage: "serial port, overrides the config; \"auto\" scans USB ports",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "discover",
				Usage: "list serial ports with a WidowX attached",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c, logger)
					if err != nil {
						return err
					}
					ports, err := widowx.DiscoverPorts(c.Context, widowx.PingChecker(cfg, logger), logger)
					if err != nil {
						return err
					}
					for _, port := range ports {
						fmt.Fprintln(c.App.Writer, port)
					}
					return nil
				},
			},
			{
				Name:  "start",
				Usage: "check the supply, then fold into the rest pose",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagRelax, Usage: "relax the servos once at rest"},
				},
				Action: withArm(logger, func(c *cli.Context, arm *widowx.Arm) error {
					return arm.Start(c.Context, c.Bool(flagRelax))
				}),
			},
			{
				Name:  "voltage",
				Usage: "print the supply voltage",
				Action: withArm(logger, func(c *cli.Context, arm *widowx.Arm) error {
					voltage, err := arm.Voltage()
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%.1f V\n", voltage)
					return nil
				}),
			},
			{
				Name:      "pose",
				Usage:     "move to a named pose",
				ArgsUsage: "<rest|home|center>",
				Flags:     []cli.Flag{durationFlag},
				Action: withArm(logger, func(c *cli.Context, arm *widowx.Arm) error {
					name := c.Args().First()
					if name == "" {
						return errors.New("pose name required")
					}
					return arm.MoveToNamedPose(c.Context, strings.ToLower(name), c.Duration(flagDuration))
				}),
			},
			{
				Name:  "point",
				Usage: "move the gripper centre to a point in cm",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: flagX, Required: true},
					&cli.Float64Flag{Name: flagY, Required: true},
					&cli.Float64Flag{Name: flagZ, Required: true},
					&cli.Float64Flag{Name: flagGamma, Usage: "gripper pitch below horizontal in degrees"},
					&cli.BoolFlag{Name: flagDirect, Usage: "skip interpolation"},
					durationFlag,
				},
				Action: withArm(logger, func(c *cli.Context, arm *widowx.Arm) error {
					p := r3.Vector{X: c.Float64(flagX), Y: c.Float64(flagY), Z: c.Float64(flagZ)}
					opts := widowx.MoveOptions{Duration: c.Duration(flagDuration), Direct: c.Bool(flagDirect)}
					if c.IsSet(flagGamma) {
						return arm.MoveToPointGamma(c.Context, p, c.Float64(flagGamma)*math.Pi/180, opts)
					}
					return arm.MoveToPoint(c.Context, p, opts)
				}),
			},
			{
				Name:  "where",
				Usage: "print the gripper position and joint angles",
				Action: withArm(logger, func(c *cli.Context, arm *widowx.Arm) error {
					pose, err := arm.EndPose()
					if err != nil {
						return err
					}
					ee := arm.CurrentPoint()
					fmt.Fprintf(c.App.Writer, "point: (%.2f, %.2f, %.2f) cm, gamma %.1f°\n",
						ee.Point.X, ee.Point.Y, ee.Point.Z, ee.Gamma*180/math.Pi)
					fmt.Fprintf(c.App.Writer, "pose: %v\n", pose)
					fmt.Fprintf(c.App.Writer, "positions: %v\n", arm.Positions())
					return nil
				}),
			},
			{
				Name:  "relax",
				Usage: "turn torque off on every servo",
				Action: withArm(logger, func(c *cli.Context, arm *widowx.Arm) error {
					return arm.Relax()
				}),
			},
		},
	}
}

func loadConfig(c *cli.Context, logger logging.Logger) (*widowx.Config, error) {
	cfg := &widowx.Config{Port: widowx.AutoPort}
	if path := c.String(flagConfig); path != "" {
		loaded, err := widowx.LoadConfigFromFile(path, logger)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if port := c.String(flagPort); port != "" {
		cfg.Port = port
	}
	if err := cfg.Validate(flagConfig); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withArm(logger logging.Logger, action func(c *cli.Context, arm *widowx.Arm) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c, logger)
		if err != nil {
			return err
		}
		arm, err := widowx.OpenArm(c.Context, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := arm.Close(); err != nil {
				logger.Warnf("error closing arm: %v", err)
			}
		}()

		start := time.Now()
		if err := action(c, arm); err != nil {
			return err
		}
		logger.Debugf("%s done in %v", c.Command.Name, time.Since(start))
		return nil
	}
}
