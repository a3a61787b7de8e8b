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
	"text/tabwriter"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	log "github.com/sirupsen/logrus"
)

type reporter struct {
	inputFilename string
	envFilename   string
	ldFilename    string
	htmlFilename  string
	snp1          string
	snp2          string
}

func (cmd *reporter) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFilename, "i", "library.gob.gz", "genotype library `file`")
	flags.StringVar(&cmd.envFilename, "env", "", "merged environmental `file` (merge-env output)")
	flags.StringVar(&cmd.ldFilename, "ld", "", "pairwise linkage `file` (ld output)")
	flags.StringVar(&cmd.htmlFilename, "o", "report.html", "chart output `file` (html)")
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

	err = writeConsoleTables(stdout, classes)
	if err != nil {
		return 1
	}

	page := components.NewPage()
	page.PageTitle = "Lower Rogue Chinook run timing, 2020"
	page.AddCharts(weeklyCountChart(classes), trajectoryChart(classes), classByMethodChart(classes))

	if cmd.envFilename != "" {
		f, err2 := os.Open(cmd.envFilename)
		if err2 != nil {
			err = err2
			return 1
		}
		days, _, err2 := loadEnvDays(f)
		f.Close()
		if err2 != nil {
			err = err2
			return 1
		}
		// one chart per source: weekly-binned and 15-minute data
		// have different day alignment and never share axes
		for _, source := range []string{envSourceUSGS, envSourceWeekly} {
			var sub []envDay
			for _, d := range days {
				if d.Source == source {
					sub = append(sub, d)
				}
			}
			if len(sub) > 0 {
				page.AddCharts(envChart(source, sub))
			}
		}
	}

	if cmd.ldFilename != "" {
		f, err2 := os.Open(cmd.ldFilename)
		if err2 != nil {
			err = err2
			return 1
		}
		names, cells, err2 := loadLDTable(f)
		f.Close()
		if err2 != nil {
			err = err2
			return 1
		}
		page.AddCharts(ldHeatmap(names, cells))
	}

	f, err := os.Create(cmd.htmlFilename)
	if err != nil {
		return 1
	}
	defer f.Close()
	err = page.Render(f)
	if err != nil {
		return 1
	}
	err = f.Close()
	if err != nil {
		return 1
	}
	log.Infof("wrote %s", cmd.htmlFilename)
	return 0
}

func writeConsoleTables(w io.Writer, classes []sampleClass) error {
	tw := tabwriter.NewWriter(w, 2, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "method\tearly\thet\tlate\tdiscordant\tmissing\ttotal")
	methods := []string{"angler", "creel", "seine"}
	tally := map[string]map[string]int{}
	for _, m := range methods {
		tally[m] = map[string]int{}
	}
	for _, sc := range classes {
		t := tally[sc.Method]
		if t == nil {
			t = map[string]int{}
			tally[sc.Method] = t
		}
		if sc.Concordance == "" {
			t["missing"]++
		} else {
			t[sc.Concordance]++
		}
		t["total"]++
	}
	for _, m := range methods {
		t := tally[m]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", m,
			t[classEarly], t[classHet], t[classLate], t[classDiscordant], t["missing"], t["total"])
	}
	err := tw.Flush()
	if err != nil {
		return err
	}
	// The intake sheet and the creel program's spreadsheet disagree
	// on the 2020 angler sample count (74 vs 67); the cause was
	// never identified and all tallies here are intake-derived.
	_, err = fmt.Fprintln(w, "note: angler counts are intake-sheet derived; the creel spreadsheet reports 67 angler samples and the discrepancy is unresolved")
	return err
}

func weeklyCountChart(classes []sampleClass) components.Charter {
	counts := map[int]int{}
	minw, maxw := 0, 0
	for _, sc := range classes {
		counts[sc.Jweek]++
		if minw == 0 || sc.Jweek < minw {
			minw = sc.Jweek
		}
		if sc.Jweek > maxw {
			maxw = sc.Jweek
		}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Samples per julian week"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Julian week"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Samples"}),
	)
	var x []int
	var y []opts.BarData
	for w := minw; w <= maxw; w++ {
		x = append(x, w)
		y = append(y, opts.BarData{Value: counts[w]})
	}
	bar.SetXAxis(x).AddSeries("samples", y)
	return bar
}

func trajectoryChart(classes []sampleClass) components.Charter {
	var jdays []int
	var dosages []int
	for _, sc := range classes {
		if d, ok := alleleDosage(sc.SNP1Class); ok {
			jdays = append(jdays, sc.Jday)
			dosages = append(dosages, d)
		}
	}
	_, prop := cumulativeTrajectory(dosages)
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Cumulative early-allele proportion",
			Subtitle: "sample trajectory; denominator is sampling-dependent, not a population estimate",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Julian day"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Cumulative proportion", Max: 1}),
	)
	var y []opts.LineData
	for _, p := range prop {
		y = append(y, opts.LineData{Value: p})
	}
	line.SetXAxis(jdays).AddSeries("early alleles", y)
	return line
}

func classByMethodChart(classes []sampleClass) components.Charter {
	order := []string{classEarly, classHet, classLate, classDiscordant}
	methods := []string{"angler", "creel", "seine"}
	tally := map[string]map[string]int{}
	for _, sc := range classes {
		if sc.Concordance == "" {
			continue
		}
		if tally[sc.Concordance] == nil {
			tally[sc.Concordance] = map[string]int{}
		}
		tally[sc.Concordance][sc.Method]++
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Genotype class by capture method"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Capture method"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Samples"}),
	)
	bar.SetXAxis(methods)
	for _, class := range order {
		var y []opts.BarData
		for _, m := range methods {
			y = append(y, opts.BarData{Value: tally[class][m]})
		}
		bar.AddSeries(class, y)
	}
	return bar
}

func envChart(source string, days []envDay) components.Charter {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("River conditions (%s)", source)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Date"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Temperature (°C)"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "Discharge (cfs)", Type: "value"})
	var x []string
	var temps, dis []opts.LineData
	for _, d := range days {
		x = append(x, d.Date.Format("2006-01-02"))
		if d.HasTemp {
			temps = append(temps, opts.LineData{Value: d.TempC})
		} else {
			temps = append(temps, opts.LineData{Value: "-"})
		}
		if d.HasDis {
			dis = append(dis, opts.LineData{Value: d.Discharge})
		} else {
			dis = append(dis, opts.LineData{Value: "-"})
		}
	}
	line.SetXAxis(x).
		AddSeries("temperature", temps).
		AddSeries("discharge", dis, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))
	return line
}

// loadLDTable reads an ld output file back in, returning the marker
// names in index order and the (a, b, r²) cells, both triangles
// included.
func loadLDTable(rdr io.Reader) ([]string, [][3]float64, error) {
	scanner := bufio.NewScanner(rdr)
	scanner.Buffer(make([]byte, 1<<22), 1<<22)
	nameByIndex := map[int]string{}
	var cells [][3]float64
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || lineno == 1 {
			continue
		}
		split := strings.Split(line, "\t")
		if len(split) != 10 {
			return nil, nil, fmt.Errorf("ld line %d: expected 10 columns, got %d", lineno, len(split))
		}
		a, err := strconv.Atoi(split[0])
		if err != nil {
			return nil, nil, fmt.Errorf("ld line %d: %w", lineno, err)
		}
		b, err := strconv.Atoi(split[1])
		if err != nil {
			return nil, nil, fmt.Errorf("ld line %d: %w", lineno, err)
		}
		nameByIndex[a] = split[2]
		nameByIndex[b] = split[3]
		if split[9] == "" {
			continue
		}
		r2, err := strconv.ParseFloat(split[9], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("ld line %d: %w", lineno, err)
		}
		cells = append(cells, [3]float64{float64(a), float64(b), r2})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	indexes := make([]int, 0, len(nameByIndex))
	for i := range nameByIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	names := make([]string, len(indexes))
	rank := map[int]int{}
	for k, i := range indexes {
		names[k] = nameByIndex[i]
		rank[i] = k
	}
	for i := range cells {
		cells[i][0] = float64(rank[int(cells[i][0])])
		cells[i][1] = float64(rank[int(cells[i][1])])
	}
	return names, cells, nil
}

func ldHeatmap(names []string, cells [][3]float64) components.Charter {
	hm := charts.NewHeatMap()
	show := true
	hm.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Pairwise linkage disequilibrium (R²)"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: names}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: names}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: &show,
			Min:        0,
			Max:        1,
			InRange:    &opts.VisualMapInRange{Color: []string{"#f6efa6", "#d88273", "#bf444c"}},
		}),
	)
	var data []opts.HeatMapData
	for _, c := range cells {
		data = append(data, opts.HeatMapData{Value: [3]interface{}{int(c[0]), int(c[1]), c[2]}})
	}
	hm.AddSeries("r2", data)
	return hm
}
