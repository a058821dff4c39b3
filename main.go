package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"

	nested "github.com/antonfisher/nested-logrus-formatter"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/viper"

	"maprender/canvas"
	"maprender/mapdata"
	"maprender/renderer"
)

// flag
var (
	hf bool
	cf string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.Usage = usage
	//InitLog 初始化日志
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	// then wrap the log output with it
	log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stdout))
	log.SetLevel(log.InfoLevel)
}

func usage() {
	fmt.Fprintf(os.Stderr, `tiler version: tiler/v0.2.0
Usage: tiler [-h] [-c filename]
`)
	flag.PrintDefaults()
}

// initConf 初始化配置
func initConf(cfgFile string) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist", cfgFile)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv() // read in environment variables that match
	err := viper.ReadInConfig()
	if err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	setDefaults()
}

func setDefaults() {
	viper.SetDefault("app.version", "v 0.2.0")
	viper.SetDefault("app.title", "MapCloud Tiler")
	viper.SetDefault("app.loglevel", "info")
	viper.SetDefault("output.format", "mbtiles")
	viper.SetDefault("output.directory", "output")
	viper.SetDefault("task.workers", 4)
	viper.SetDefault("task.savepipe", 1)
	viper.SetDefault("task.cache", 1<<16)
	viper.SetDefault("render.tilesize", TileSize)
	viper.SetDefault("render.textscale", 1.0)
	viper.SetDefault("render.transparent", false)
	viper.SetDefault("source.type", "geojson")
	viper.SetDefault("source.table", "features")
	viper.SetDefault("tm.name", "map")
	viper.SetDefault("tm.schema", "xyz")
	viper.SetDefault("tm.min", ZoomMin)
	viper.SetDefault("tm.max", 14)
}

//openSource 打开地图数据源
func openSource() (mapdata.Source, error) {
	path := viper.GetString("source.path")
	switch t := viper.GetString("source.type"); t {
	case "geojson":
		return mapdata.LoadGeoJSON(path)
	case "spatialite":
		return mapdata.OpenSpatiaLite(path, viper.GetString("source.table"))
	default:
		return nil, errors.Errorf("unknown source type %q", t)
	}
}

//themeSource 渲染样式
func themeSource() renderer.ThemeFile {
	path := viper.GetString("render.theme")
	return renderer.ThemeFile{
		Path:       path,
		Categories: viper.GetStringSlice("render.categories"),
		LoadSymbol: canvas.SymbolLoader(filepath.Dir(path)),
	}
}

//layers 按级别生成渲染范围
func layers(tm TileMap) ([]Layer, error) {
	collection, err := loadCollection(viper.GetString("tm.area"))
	if err != nil {
		return nil, err
	}
	var lrs []Layer
	for z := tm.Min; z <= tm.Max; z++ {
		lrs = append(lrs, Layer{Zoom: z, Collection: collection})
	}
	return lrs, nil
}

func run() error {
	tm := TileMap{
		Name:   viper.GetString("tm.name"),
		Min:    viper.GetInt("tm.min"),
		Max:    viper.GetInt("tm.max"),
		Format: PNG,
		Schema: viper.GetString("tm.schema"),
		Size:   viper.GetInt("render.tilesize"),
		Path:   viper.GetString("tm.path"),
	}
	lrs, err := layers(tm)
	if err != nil {
		return err
	}
	source, err := openSource()
	if err != nil {
		return err
	}
	defer source.Close()
	factory, err := canvas.NewFactory(viper.GetString("render.font"))
	if err != nil {
		return err
	}

	task, err := NewTask(lrs, tm, source, factory, themeSource())
	if err != nil {
		return err
	}
	defer task.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		if _, ok := <-interrupt; ok {
			task.Abort()
		}
	}()

	log.Infof("task %s: %d tiles, zoom %d-%d", task.ID, task.Total, task.Min, task.Max)
	return task.Render()
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}

	if cf == "" {
		cf = "conf.toml"
	}
	initConf(cf)
	if level, err := log.ParseLevel(viper.GetString("app.loglevel")); err == nil {
		log.SetLevel(level)
	}
	start := time.Now()
	if err := run(); err != nil {
		log.Fatal(err)
	}
	secs := time.Since(start).Seconds()
	log.Printf("\n%.3fs finished...", secs)
}
