// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
bcl-demux converts a sequencing run directory (CBCL basecalls plus
RunInfo.xml and per-tile filter files) into per-sample FASTQ files,
assigning clusters to samples by their index reads. Index matching
tolerates substitution errors: each sample's indices are expanded to
the widest Hamming neighborhood that stays unambiguous within the lane.

Usage:

	bcl-demux [OPTIONS] rundir samplesheet.csv
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/demux/demux"
)

var (
	outDir      = flag.String("out", ".", "Directory to write FASTQ files to")
	maxDistance = flag.Int("max-distance", 1, "Maximum number of index substitution errors to correct")
)

func demuxUsage() {
	fmt.Printf("Usage: %s [OPTIONS] rundir samplesheet\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = demuxUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 2 {
		flag.Usage()
		log.Fatalf("Expected exactly two positional arguments (rundir and samplesheet), got %d", flag.NArg())
	}
	runDir, sheet := flag.Arg(0), flag.Arg(1)

	ctx := vcontext.Background()
	run, err := demux.NewRun(ctx, runDir)
	if err != nil {
		log.Fatalf("Reading run %s: %v", runDir, err)
	}
	data, err := demux.ReadSampleSheet(ctx, sheet, *maxDistance)
	if err != nil {
		log.Fatalf("Reading sample sheet %s: %v", sheet, err)
	}
	d := demux.NewDemuxer(run, data, *outDir)
	if err := d.Process(ctx); err != nil {
		log.Fatalf("Demux failed: %v", err)
	}
	log.Debug.Printf("exiting")
}
