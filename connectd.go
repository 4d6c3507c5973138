// Copyright 2025 The connectd Authors
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"connectd/backend"
	"connectd/logger"
	"connectd/playback"
	"connectd/remote"
	"connectd/session"
)

var osExit = os.Exit // a variable to allow mocking os.Exit in tests

const DEVELOPMENT = "development"

// Name is the identity we announce on the session and the bus
var Name string = "connectd"

// Version is the program version; usually set from BuildInfo
var Version string = DEVELOPMENT

func readConfig(configFile *string) error {
	required_properties := []string{"session.url"}

	if configFile != nil && *configFile != "" {
		// use custom config file
		viper.SetConfigFile(*configFile)
	} else {
		// lookup default dirs
		viper.SetConfigName("connectd")
		viper.SetConfigType("toml")
		viper.AddConfigPath("$HOME/.config/connectd")
		viper.AddConfigPath("/etc/connectd")
		viper.AddConfigPath(".")
	}

	viper.SetDefault("session.device-name", Name)
	viper.SetDefault("session.max-retries", 5)
	viper.SetDefault("session.backoff", "2s")
	viper.SetDefault("backend.command", "aplay")
	viper.SetDefault("backend.sample-rate", 44100)
	viper.SetDefault("backend.channels", 2)
	viper.SetDefault("backend.eager-spawn", false)
	viper.SetDefault("backend.resume", "position")
	viper.SetDefault("mpris.enabled", true)
	viper.SetDefault("volume.initial", 1.0)

	// read it
	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("Config file error: %s\n", err)
	}

	// validate
	for _, prop := range required_properties {
		if !viper.IsSet(prop) {
			return fmt.Errorf("Config property %s is required\n", prop)
		}
	}

	return nil
}

func resumePolicy() playback.ResumePolicy {
	if viper.GetString("backend.resume") == "restart" {
		return playback.RestartTrack
	}
	return playback.ResumeAtPosition
}

// return codes:
// 0 - OK
// 1 - generic/startup errors
// 2 - config errors
func main() {
	help := flag.Bool("help", false, "Print usage")
	noDaemon := flag.Bool("no-daemon", false, "stay in the foreground (daemonization is left to the service manager)")
	verbose := flag.Bool("verbose", false, "log debug information")
	enableMpris := flag.Bool("mpris", true, "expose the MPRIS2 control surface")
	configFile := flag.String("config", "", "use config `file`")
	version := flag.Bool("version", false, "print the connectd version and exit")

	flag.Parse()
	if *help {
		fmt.Printf("USAGE: %s <args>\n", os.Args[0])
		flag.Usage()
		osExit(0)
	}
	if Version == DEVELOPMENT {
		if bi, ok := debug.ReadBuildInfo(); ok {
			Version = bi.Main.Version
		}
	}
	if *version {
		fmt.Printf("connectd %s\n", Version)
		osExit(0)
	}
	_ = noDaemon // accepted for service-file compatibility

	if err := readConfig(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read configuration: %v\n", err)
		osExit(2)
	}

	log := logger.Init(os.Stderr, *verbose)
	log.Printf("connectd %s starting", Version)

	// a missing sink binary is an unrecoverable startup failure
	sinkCommand := viper.GetString("backend.command")
	if _, err := exec.LookPath(sinkCommand); err != nil {
		log.PrintError("startup", err)
		fmt.Fprintf(os.Stderr, "Audio backend command %q not found. Is it installed?\n", sinkCommand)
		osExit(1)
	}

	format := backend.AudioFormat{
		SampleRate: viper.GetInt("backend.sample-rate"),
		Channels:   viper.GetInt("backend.channels"),
	}
	sup := backend.NewSupervisor(backend.Config{
		Command: sinkCommand,
		Device:  viper.GetString("backend.device"),
		Args:    viper.GetStringSlice("backend.args"),
	}, log)
	sup.SetGain(viper.GetFloat64("volume.initial"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := session.Dial(ctx, session.Config{
		URL:        viper.GetString("session.url"),
		DeviceName: viper.GetString("session.device-name"),
		MaxRetries: viper.GetInt("session.max-retries"),
		Backoff:    viper.GetDuration("session.backoff"),
	}, log)
	if err != nil {
		log.PrintError("startup", err)
		fmt.Fprintf(os.Stderr, "Unable to reach the session engine: %v\n", err)
		osExit(1)
	}
	defer sess.Close()

	machine := playback.NewMachine(playback.Config{
		Format:        format,
		Resume:        resumePolicy(),
		InitialVolume: viper.GetFloat64("volume.initial"),
	}, log)
	reactor := playback.NewReactor(machine, sess, sup, log)

	// MPRIS is optional; playback continues headless when the bus is gone
	if *enableMpris && viper.GetBool("mpris.enabled") {
		mprisPlayer, err := remote.RegisterMprisPlayer(reactor, log)
		if err != nil {
			log.PrintError("mpris register", err)
			log.Print("continuing without desktop integration")
		} else {
			reactor.SetBridge(mprisPlayer)
			defer mprisPlayer.Close()
		}
	}

	if viper.GetBool("backend.eager-spawn") {
		if _, err := sup.Spawn(format); err != nil {
			log.PrintError("startup", err)
			fmt.Fprintf(os.Stderr, "Unable to start audio backend: %v\n", err)
			osExit(1)
		}
	}

	if err := reactor.Run(ctx); err != nil {
		log.PrintError("run", err)
		osExit(1)
	}

	// give the log drain a moment to flush
	time.Sleep(50 * time.Millisecond)
}
