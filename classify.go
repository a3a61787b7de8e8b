// Copyright (C) The Rogue Run-Timing Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package runtiming

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	log "github.com/sirupsen/logrus"
)

// Diagnostic GREB1L/ROCK1 region markers used as run-timing proxies.
const (
	defaultSNP1 = "Ots28_11062912"
	defaultSNP2 = "Ots28_11201129"
)

const (
	classEarly      = "early_homozygote"
	classHet        = "heterozygote"
	classLate       = "late_homozygote"
	classDiscordant = "discordant"
)

// Genotype vocabularies are marker-specific and matched exactly; any
// other call (including a missing call) classifies as missing, never
// as a default category.
var (
	snp1Vocab = map[string]string{"TT": classEarly, "TA": classHet, "AA": classLate}
	snp2Vocab = map[string]string{"GG": classEarly, "GA": classHet, "AA": classLate}
)

func classifyCall(call string, vocab map[string]string) string {
	return vocab[call]
}

// concordance combines the two diagnostic markers' classes. Equal
// classes pass through; unequal classes are "discordant" regardless
// of direction; a missing class on either side propagates as missing.
func concordance(c1, c2 string) string {
	if c1 == "" || c2 == "" {
		return ""
	}
	if c1 == c2 {
		return c1
	}
	return classDiscordant
}

// alleleDosage is the early-allele count for a class: 2 for
// early_homozygote, 1 for heterozygote, 0 for late_homozygote. ok is
// false for missing (and for discordant, which has no single-marker
// dosage).
func alleleDosage(class string) (int, bool) {
	switch class {
	case classEarly:
		return 2, true
	case classHet:
		return 1, true
	case classLate:
		return 0, true
	}
	return 0, false
}

// cumulativeTrajectory computes the running early-allele sum over
// dosages already ordered by day of year, normalized by the final
// total. The proportions are non-decreasing and end at exactly 1.
// The denominator is the sampled total, so the curve describes this
// cohort's sampling, not the population.
func cumulativeTrajectory(dosages []int) (cum []int, prop []float64) {
	cum = make([]int, len(dosages))
	prop = make([]float64, len(dosages))
	sum := 0
	for i, d := range dosages {
		sum += d
		cum[i] = sum
	}
	if sum == 0 {
		return cum, prop
	}
	for i, c := range cum {
		prop[i] = float64(c) / float64(sum)
	}
	return cum, prop
}

// sampleClass is one sample's classification at both diagnostic
// markers.
type sampleClass struct {
	sampleInfo
	SNP1Call    string
	SNP2Call    string
	SNP1Class   string
	SNP2Class   string
	Concordance string
}

// classifyLibrary classifies every sample in the library at the two
// named markers, preserving library (day-of-year) order.
func classifyLibrary(lib *GenotypeLibrary, snp1, snp2 string) ([]sampleClass, error) {
	calls1, err := lib.CallsFor(snp1)
	if err != nil {
		return nil, err
	}
	calls2, err := lib.CallsFor(snp2)
	if err != nil {
		return nil, err
	}
	out := make([]sampleClass, len(lib.Samples))
	for i, si := range lib.Samples {
		c1 := classifyCall(calls1[i], snp1Vocab)
		c2 := classifyCall(calls2[i], snp2Vocab)
		out[i] = sampleClass{
			sampleInfo:  si,
			SNP1Call:    calls1[i],
			SNP2Call:    calls2[i],
			SNP1Class:   c1,
			SNP2Class:   c2,
			Concordance: concordance(c1, c2),
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Jday < out[j].Jday })
	return out, nil
}

type classifier struct {
	inputFilename      string
	outputFilename     string
	trajectoryFilename string
	snp1               string
	snp2               string
}

func (cmd *classifier) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFilename, "i", "library.gob.gz", "genotype library `file`")
	flags.StringVar(&cmd.outputFilename, "o", "-", "per-sample classification output `file` (tsv)")
	flags.StringVar(&cmd.trajectoryFilename, "trajectory", "", "cumulative trajectory output `file` (tsv)")
	flags.StringVar(&cmd.snp1, "snp1", defaultSNP1, "first diagnostic `marker`")
	flags.StringVar(&cmd.snp2, "snp2", defaultSNP2, "second diagnostic `marker`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	lib, err := loadGenotypeLibrary(cmd.inputFilename)
	if err != nil {
		return 1
	}
	classes, err := classifyLibrary(lib, cmd.snp1, cmd.snp2)
	if err != nil {
		return 1
	}

	tally := map[string]int{}
	missing := 0
	for _, sc := range classes {
		if sc.Concordance == "" {
			missing++
		} else {
			tally[sc.Concordance]++
		}
	}
	log.Infof("classified %d samples: %d early, %d het, %d late, %d discordant, %d missing",
		len(classes), tally[classEarly], tally[classHet], tally[classLate], tally[classDiscordant], missing)

	var output io.WriteCloser
	if cmd.outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(cmd.outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = writeClassified(bufw, classes, cmd.snp1, cmd.snp2)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}

	if cmd.trajectoryFilename != "" {
		err = cmd.writeTrajectory(classes)
		if err != nil {
			return 1
		}
	}
	return 0
}

func writeClassified(w io.Writer, classes []sampleClass, snp1, snp2 string) error {
	_, err := fmt.Fprintf(w, "SampleID\tDate\tJday\tMethod\t%s\t%sClass\t%s\t%sClass\tConcordance\tDosage\n", snp1, snp1, snp2, snp2)
	if err != nil {
		return err
	}
	for _, sc := range classes {
		dos := ""
		if d, ok := alleleDosage(sc.SNP1Class); ok {
			dos = fmt.Sprintf("%d", d)
		}
		_, err = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sc.ID, sc.Date.Format("2006-01-02"), sc.Jday, sc.Method,
			sc.SNP1Call, sc.SNP1Class, sc.SNP2Call, sc.SNP2Class, sc.Concordance, dos)
		if err != nil {
			return err
		}
	}
	return nil
}

// The trajectory is computed from the SNP1 class only; samples with
// a missing SNP1 class contribute no dosage and are excluded.
func (cmd *classifier) writeTrajectory(classes []sampleClass) error {
	var ids []string
	var jdays, dosages []int
	for _, sc := range classes {
		d, ok := alleleDosage(sc.SNP1Class)
		if !ok {
			continue
		}
		ids = append(ids, sc.ID)
		jdays = append(jdays, sc.Jday)
		dosages = append(dosages, d)
	}
	if len(dosages) == 0 {
		return fmt.Errorf("no classified samples, cannot compute trajectory")
	}
	cum, prop := cumulativeTrajectory(dosages)
	f, err := os.OpenFile(cmd.trajectoryFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	_, err = fmt.Fprintln(bufw, "SampleID\tJday\tDosage\tCumulative\tProportion")
	if err != nil {
		return err
	}
	for i := range ids {
		_, err = fmt.Fprintf(bufw, "%s\t%d\t%d\t%d\t%.6f\n", ids[i], jdays[i], dosages[i], cum[i], prop[i])
		if err != nil {
			return err
		}
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}
