// Copyright 2024 Rektor Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The rektor binary audits a Rekor transparency log: it fetches checkpoints,
// verifies inclusion of individual entries, and verifies consistency between
// a previously recorded checkpoint and the log's current state.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/rektor-dev/rektor/audit"
	"github.com/rektor-dev/rektor/client"
	"github.com/rektor-dev/rektor/cmd"
	"github.com/rektor-dev/rektor/cmd/internal/config"
	"github.com/rektor-dev/rektor/merkle/rfc6962"
	"github.com/rektor-dev/rektor/monitoring/prometheus"
)

// Flags
var (
	rekorURL   = flag.String("rekor_url", "", "Base URL of the log's REST API, overrides the config file")
	timeout    = flag.Duration("timeout", 0, "Per-request timeout, overrides the config file")
	configFile = flag.String("config", "", "YAML config file with connection settings")
	flagFile   = flag.String("flag_file", "", "File containing flags, file contents can be overridden by command line flags")

	checkpoint  = flag.Bool("checkpoint", false, "Fetch the latest checkpoint and print it")
	inclusion   = flag.Int64("inclusion", -1, "Verify inclusion of the entry at this log index")
	artifact    = flag.String("artifact", "", "Path to the signed artifact, required with -inclusion")
	consistency = flag.Bool("consistency", false, "Verify consistency of a recorded checkpoint against the latest one")
	treeID      = flag.String("tree_id", "", "Tree ID of the recorded checkpoint, checked against the log if set")
	treeSize    = flag.Int64("tree_size", 0, "Tree size of the recorded checkpoint, required with -consistency")
	rootHash    = flag.String("root_hash", "", "Hex-encoded root hash of the recorded checkpoint, required with -consistency")

	debug = flag.Bool("debug", false, "Enable debug logging, shorthand for -v 1")
)

// Errors
var (
	errNoOperation     = errors.New("no operation requested: use one of -checkpoint, -inclusion or -consistency")
	errTooManyOps      = errors.New("more than one operation requested: use only one of -checkpoint, -inclusion or -consistency")
	errArtifactMissing = errors.New("artifact path is missing: use the -artifact flag to set it")
	errTreeSizeMissing = errors.New("checkpoint tree size is missing: use the -tree_size flag to set it")
	errRootHashMissing = errors.New("checkpoint root hash is missing: use the -root_hash flag to set it")
)

func verifyFlags() error {
	ops := 0
	if *checkpoint {
		ops++
	}
	if *inclusion >= 0 {
		ops++
	}
	if *consistency {
		ops++
	}
	switch {
	case ops == 0:
		return errNoOperation
	case ops > 1:
		return errTooManyOps
	}

	if *inclusion >= 0 && *artifact == "" {
		return errArtifactMissing
	}
	if *consistency {
		if *treeSize < 1 {
			return errTreeSizeMissing
		}
		if *rootHash == "" {
			return errRootHashMissing
		}
	}
	return nil
}

func applyDebugFlag() error {
	if !*debug {
		return nil
	}
	return flag.Set("v", "1")
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return config.Config{}, err
		}
	}
	if *rekorURL != "" {
		cfg.RekorURL = *rekorURL
	}
	if *timeout != 0 {
		cfg.Timeout = *timeout
	}
	return cfg, nil
}

func printCheckpoint(info *client.LogInfo) error {
	out, err := json.MarshalIndent(client.Checkpoint{
		TreeID:   info.TreeID,
		TreeSize: info.TreeSize,
		RootHash: info.RootHash,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func run(ctx context.Context, auditor *audit.Auditor, logClient *client.LogClient) error {
	switch {
	case *checkpoint:
		info, err := logClient.GetLatestCheckpoint(ctx)
		if err != nil {
			return err
		}
		return printCheckpoint(info)

	case *inclusion >= 0:
		f, err := os.Open(*artifact)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := auditor.VerifyInclusion(ctx, *inclusion, f); err != nil {
			return err
		}
		fmt.Printf("inclusion verified for log index %d\n", *inclusion)
		return nil

	case *consistency:
		prev := client.Checkpoint{TreeID: *treeID, TreeSize: *treeSize, RootHash: *rootHash}
		latest, err := auditor.VerifyConsistency(ctx, prev)
		if err != nil {
			return err
		}
		if prev.TreeID != "" && latest.TreeID != prev.TreeID {
			return fmt.Errorf("log reports tree ID %q, checkpoint was recorded against %q", latest.TreeID, prev.TreeID)
		}
		fmt.Printf("consistency verified between sizes %d and %d\n", prev.TreeSize, latest.TreeSize)
		return printCheckpoint(latest)
	}
	return errNoOperation
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *flagFile != "" {
		if err := cmd.ParseFlagFile(*flagFile); err != nil {
			klog.Exitf("Failed to load flags from %q: %v", *flagFile, err)
		}
	}
	if err := verifyFlags(); err != nil {
		klog.Exit(err)
	}
	// Applied after the flag file has been parsed, so that debug set there
	// takes effect too.
	if err := applyDebugFlag(); err != nil {
		klog.Exitf("Failed to raise log verbosity: %v", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		klog.Exit(err)
	}

	opts := client.Options{
		Timeout:       cfg.Timeout,
		MetricFactory: prometheus.MetricFactory{Prefix: "rektor_"},
	}
	logClient, err := client.New(cfg.RekorURL, opts)
	if err != nil {
		klog.Exitf("Failed to create log client for %q: %v", cfg.RekorURL, err)
	}
	auditor := audit.New(logClient, rfc6962.DefaultHasher)

	start := time.Now()
	if err := run(context.Background(), auditor, logClient); err != nil {
		klog.Exitf("Audit failed: %v", err)
	}
	klog.V(1).Infof("audit finished in %v", time.Since(start))
}
