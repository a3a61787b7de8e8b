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
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Source tags for merged environmental rows. Rows from different
// sources are never mixed within one derived figure: the weekly
// source is pre-binned on julian weeks of its own year, and week
// bins do not line up across leap/non-leap years.
const (
	envSourceWeekly = "weekly-binned"
	envSourceUSGS   = "usgs-15min"
)

// envDay is one (date, source) observation of river condition, after
// reshaping to the common long format.
type envDay struct {
	Date      time.Time
	TempC     float64
	Discharge float64
	HasTemp   bool
	HasDis    bool
	Source    string
}

// weekStartDate converts a julian-week bin back to the calendar date
// it started on in the given year. Deriving real dates here, instead
// of carrying the bin number across years, is what keeps leap and
// non-leap years comparable.
func weekStartDate(year, jweek int) time.Time {
	return time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, (jweek-1)*7)
}

// loadWeeklyEnv reads the pre-binned weekly readings file
// (Jweek, TempC, DischargeCFS), one row per bin, dated at bin start.
func loadWeeklyEnv(rdr io.Reader, year int) ([]envDay, error) {
	scanner := bufio.NewScanner(rdr)
	var days []envDay
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || lineno == 1 {
			continue
		}
		split := strings.Split(line, "\t")
		if len(split) < 3 {
			return nil, fmt.Errorf("weekly env line %d: expected 3 columns, got %d", lineno, len(split))
		}
		jweek, err := strconv.Atoi(split[0])
		if err != nil {
			return nil, fmt.Errorf("weekly env line %d: %w", lineno, err)
		}
		day := envDay{Date: weekStartDate(year, jweek), Source: envSourceWeekly}
		if split[1] != "" {
			day.TempC, err = strconv.ParseFloat(split[1], 64)
			if err != nil {
				return nil, fmt.Errorf("weekly env line %d: %w", lineno, err)
			}
			day.HasTemp = true
		}
		if split[2] != "" {
			day.Discharge, err = strconv.ParseFloat(split[2], 64)
			if err != nil {
				return nil, fmt.Errorf("weekly env line %d: %w", lineno, err)
			}
			day.HasDis = true
		}
		days = append(days, day)
	}
	return days, scanner.Err()
}

// loadUSGSDaily reads a USGS RDB gauge export (15-minute interval)
// and aggregates to daily means. Parameter columns are recognized by
// USGS parameter code suffix: 00010 is water temperature (deg C),
// 00060 is discharge (cfs). Blank values (ice, equipment outages)
// are missing; anything else non-numeric aborts.
func loadUSGSDaily(rdr io.Reader) ([]envDay, error) {
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	var header []string
	tempCol, disCol, dtCol := -1, -1, -1
	type accum struct {
		tempSum, disSum float64
		tempN, disN     int
	}
	byDate := map[string]*accum{}
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		split := strings.Split(line, "\t")
		if header == nil {
			header = split
			for i, name := range header {
				switch {
				case name == "datetime":
					dtCol = i
				case strings.HasSuffix(name, "_00010"):
					tempCol = i
				case strings.HasSuffix(name, "_00060"):
					disCol = i
				}
			}
			if dtCol < 0 {
				return nil, fmt.Errorf("usgs file has no datetime column in header %q", line)
			}
			if tempCol < 0 && disCol < 0 {
				return nil, fmt.Errorf("usgs file has no 00010 or 00060 parameter column in header %q", line)
			}
			continue
		}
		if len(split) > 0 && strings.HasSuffix(split[0], "s") && strings.ContainsAny(split[0], "0123456789") {
			// rdb column-format row, e.g. "5s	15s	20d ..."
			continue
		}
		if len(split) <= dtCol {
			return nil, fmt.Errorf("usgs line %d: short row", lineno)
		}
		date := strings.SplitN(split[dtCol], " ", 2)[0]
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("usgs line %d: %w", lineno, err)
		}
		acc := byDate[date]
		if acc == nil {
			acc = &accum{}
			byDate[date] = acc
		}
		for _, p := range []struct {
			col int
			sum *float64
			n   *int
		}{{tempCol, &acc.tempSum, &acc.tempN}, {disCol, &acc.disSum, &acc.disN}} {
			if p.col < 0 || p.col >= len(split) {
				continue
			}
			v := strings.TrimSpace(split[p.col])
			if v == "" {
				continue
			}
			x, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("usgs line %d: %w", lineno, err)
			}
			*p.sum += x
			*p.n++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	var days []envDay
	for date, acc := range byDate {
		t, _ := time.Parse("2006-01-02", date)
		day := envDay{Date: t, Source: envSourceUSGS}
		if acc.tempN > 0 {
			day.TempC = acc.tempSum / float64(acc.tempN)
			day.HasTemp = true
		}
		if acc.disN > 0 {
			day.Discharge = acc.disSum / float64(acc.disN)
			day.HasDis = true
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days, nil
}

// loadPriorDates reads the manually transcribed prior-year
// sample-date table (SampleID, Date).
func loadPriorDates(rdr io.Reader) ([]time.Time, error) {
	scanner := bufio.NewScanner(rdr)
	var dates []time.Time
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || lineno == 1 {
			continue
		}
		split := strings.Split(line, "\t")
		if len(split) < 2 {
			return nil, fmt.Errorf("prior dates line %d: expected 2 columns", lineno)
		}
		t, err := parseSampleDate(split[1])
		if err != nil {
			return nil, fmt.Errorf("prior dates line %d: %w", lineno, err)
		}
		dates = append(dates, t)
	}
	return dates, scanner.Err()
}

type envMerger struct {
	weeklyFilename  string
	weeklyYear      int
	usgsFilename    string
	samplesFilename string
	priorFilename   string
	outputFilename  string
}

func (cmd *envMerger) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.weeklyFilename, "weekly", "", "pre-binned weekly readings `file` (tsv)")
	flags.IntVar(&cmd.weeklyYear, "weekly-year", 2019, "calendar `year` the weekly bins belong to")
	flags.StringVar(&cmd.usgsFilename, "usgs", "", "raw USGS 15-minute gauge `file` (rdb)")
	flags.StringVar(&cmd.samplesFilename, "samples", "", "cleaned samples `file` for weekly counts")
	flags.StringVar(&cmd.priorFilename, "prior-dates", "", "manually transcribed prior-year sample date `file` (tsv)")
	flags.StringVar(&cmd.outputFilename, "o", "-", "output `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.weeklyFilename == "" && cmd.usgsFilename == "" {
		err = fmt.Errorf("must provide -weekly and/or -usgs")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	var days []envDay
	if cmd.weeklyFilename != "" {
		f, err2 := os.Open(cmd.weeklyFilename)
		if err2 != nil {
			err = err2
			return 1
		}
		wk, err2 := loadWeeklyEnv(f, cmd.weeklyYear)
		f.Close()
		if err2 != nil {
			err = fmt.Errorf("%s: %w", cmd.weeklyFilename, err2)
			return 1
		}
		log.Infof("weekly source: %d bins (%d)", len(wk), cmd.weeklyYear)
		days = append(days, wk...)
	}
	if cmd.usgsFilename != "" {
		f, err2 := os.Open(cmd.usgsFilename)
		if err2 != nil {
			err = err2
			return 1
		}
		us, err2 := loadUSGSDaily(f)
		f.Close()
		if err2 != nil {
			err = fmt.Errorf("%s: %w", cmd.usgsFilename, err2)
			return 1
		}
		log.Infof("usgs source: %d days", len(us))
		days = append(days, us...)
	}

	// weekly sample counts by (year, jweek)
	counts := map[int]map[int]int{}
	addCount := func(year, jweek int) {
		if counts[year] == nil {
			counts[year] = map[int]int{}
		}
		counts[year][jweek]++
	}
	if cmd.samplesFilename != "" {
		samples, err2 := loadSamplesFile(cmd.samplesFilename)
		if err2 != nil {
			err = err2
			return 1
		}
		for _, si := range samples {
			addCount(si.Date.Year(), si.Jweek)
		}
	}
	if cmd.priorFilename != "" {
		f, err2 := os.Open(cmd.priorFilename)
		if err2 != nil {
			err = err2
			return 1
		}
		dates, err2 := loadPriorDates(f)
		f.Close()
		if err2 != nil {
			err = fmt.Errorf("%s: %w", cmd.priorFilename, err2)
			return 1
		}
		for _, t := range dates {
			addCount(t.Year(), julianWeek(t.YearDay()))
		}
	}

	sort.SliceStable(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })

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
	err = writeEnvDays(bufw, days, counts)
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
	return 0
}

const envHeader = "Date\tYear\tJday\tJweek\tTempC\tDischargeCFS\tSource\tWeekSamples"

func writeEnvDays(w io.Writer, days []envDay, counts map[int]map[int]int) error {
	if _, err := fmt.Fprintln(w, envHeader); err != nil {
		return err
	}
	for _, d := range days {
		year := d.Date.Year()
		jday := d.Date.YearDay()
		jweek := julianWeek(jday)
		temp, dis := "", ""
		if d.HasTemp {
			temp = strconv.FormatFloat(d.TempC, 'f', 2, 64)
		}
		if d.HasDis {
			dis = strconv.FormatFloat(d.Discharge, 'f', 1, 64)
		}
		n := 0
		if counts[year] != nil {
			n = counts[year][jweek]
		}
		_, err := fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\t%d\n",
			d.Date.Format("2006-01-02"), year, jday, jweek, temp, dis, d.Source, n)
		if err != nil {
			return err
		}
	}
	return nil
}

// loadEnvDays reads a merge-env output file back in (for report).
func loadEnvDays(rdr io.Reader) ([]envDay, map[string]int, error) {
	scanner := bufio.NewScanner(rdr)
	var days []envDay
	weekSamples := map[string]int{} // "year/jweek" => count
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if lineno == 1 {
			if line != envHeader {
				return nil, nil, fmt.Errorf("unexpected env header %q", line)
			}
			continue
		}
		split := strings.Split(line, "\t")
		if len(split) != 8 {
			return nil, nil, fmt.Errorf("env line %d: expected 8 columns, got %d", lineno, len(split))
		}
		date, err := time.Parse("2006-01-02", split[0])
		if err != nil {
			return nil, nil, fmt.Errorf("env line %d: %w", lineno, err)
		}
		d := envDay{Date: date, Source: split[6]}
		if split[4] != "" {
			d.TempC, err = strconv.ParseFloat(split[4], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("env line %d: %w", lineno, err)
			}
			d.HasTemp = true
		}
		if split[5] != "" {
			d.Discharge, err = strconv.ParseFloat(split[5], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("env line %d: %w", lineno, err)
			}
			d.HasDis = true
		}
		n, err := strconv.Atoi(split[7])
		if err != nil {
			return nil, nil, fmt.Errorf("env line %d: %w", lineno, err)
		}
		weekSamples[split[1]+"/"+split[3]] = n
		days = append(days, d)
	}
	return days, weekSamples, scanner.Err()
}
