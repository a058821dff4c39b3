package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"maprender/mapdata"
	"maprender/renderer"
	rtile "maprender/tile"
)

//MBTileVersion mbtiles版本号
const MBTileVersion = "1.2"

//Task 渲染任务
type Task struct {
	ID           string
	Name         string
	Description  string
	File         string
	Min          int
	Max          int
	Layers       []Layer
	TileMap      TileMap
	Total        int64
	Current      int64
	Bar          *pb.ProgressBar
	db           *sql.DB
	workerCount  int
	savePipeSize int
	wg           sync.WaitGroup
	abort        chan struct{}
	workers      chan maptile.Tile
	savingpipe   chan Tile
	tileSet      *Set
	outformat    string
	renderer     *renderer.Renderer
	theme        renderer.ThemeSource
	textScale    float64
	hasAlpha     bool
}

//NewTask 创建渲染任务
func NewTask(layers []Layer, m TileMap, source mapdata.Source, factory renderer.GraphicFactory, theme renderer.ThemeSource) (*Task, error) {
	if len(layers) == 0 {
		return nil, errors.New("task without layers")
	}
	id, err := shortid.Generate()
	if err != nil {
		return nil, errors.Wrap(err, "generate task id")
	}

	task := Task{
		ID:      id,
		Name:    m.Name,
		Layers:  layers,
		Min:     layers[0].Zoom,
		Max:     layers[len(layers)-1].Zoom,
		TileMap: m,
		theme:   theme,
	}
	if task.TileMap.Size <= 0 {
		task.TileMap.Size = TileSize
	}
	if task.TileMap.Format == "" {
		task.TileMap.Format = PNG
	}

	for i := 0; i < len(layers); i++ {
		if layers[i].Zoom < ZoomMin || layers[i].Zoom > ZoomMax {
			return nil, errors.Errorf("zoom %d out of range %d-%d", layers[i].Zoom, ZoomMin, ZoomMax)
		}
		t := time.Now()
		tiles, err := coverTiles(layers[i].Collection, layers[i].Zoom)
		if err != nil {
			return nil, err
		}
		layers[i].tiles = tiles
		layers[i].Count = int64(len(tiles))
		log.Debugf("zoom %d: %d tiles, cover %s", layers[i].Zoom, layers[i].Count, time.Since(t))
		task.Total += layers[i].Count
	}
	task.abort = make(chan struct{}, 1)

	task.workerCount = viper.GetInt("task.workers")
	if task.workerCount < 1 {
		task.workerCount = 1
	}
	task.savePipeSize = viper.GetInt("task.savepipe")
	task.workers = make(chan maptile.Tile, task.workerCount)
	task.savingpipe = make(chan Tile, task.savePipeSize)
	task.textScale = viper.GetFloat64("render.textscale")
	task.hasAlpha = viper.GetBool("render.transparent")

	task.tileSet = newSet(viper.GetInt("task.cache"))
	task.renderer = renderer.New(source, factory, task.tileSet)
	task.tileSet.deps = task.renderer.Dependencies()

	task.outformat = viper.GetString("output.format")
	return &task, nil
}

//Bound 范围
func (task *Task) Bound() orb.Bound {
	var bound orb.Bound
	for i, layer := range task.Layers {
		b := layer.Collection.Bound()
		if i == 0 {
			bound = b
			continue
		}
		bound = bound.Union(b)
	}
	return bound
}

//Center 中心点
func (task *Task) Center() orb.Point {
	return task.Layers[len(task.Layers)-1].Collection.Bound().Center()
}

//MetaItems 输出
func (task *Task) MetaItems() map[string]string {
	b := task.Bound()
	c := task.Center()
	layerType := "baselayer"
	if task.hasAlpha {
		layerType = "overlay"
	}
	data := map[string]string{
		"id":          task.ID,
		"name":        task.Name,
		"description": task.Description,
		"attribution": `<a href="http://www.atlasdata.cn/" target="_blank">&copy; MapCloud</a>`,
		"basename":    task.TileMap.Name,
		"format":      task.TileMap.Format,
		"type":        layerType,
		"scheme":      task.TileMap.Schema,
		"pixel_scale": strconv.Itoa(task.TileMap.Size),
		"version":     MBTileVersion,
		"bounds":      fmt.Sprintf(`%f,%f,%f,%f`, b.Left(), b.Bottom(), b.Right(), b.Top()),
		"center":      fmt.Sprintf(`%f,%f,%d`, c.X(), c.Y(), (task.Min+task.Max)/2),
		"minzoom":     strconv.Itoa(task.Min),
		"maxzoom":     strconv.Itoa(task.Max),
	}
	return data
}

//SetupMBTileTables 初始化配置MBTile库
func (task *Task) SetupMBTileTables() error {
	if task.File == "" {
		outdir := viper.GetString("output.directory")
		os.MkdirAll(outdir, os.ModePerm)
		task.File = filepath.Join(outdir, task.ID+"."+task.TileMap.Name+".mbtiles")
	}
	os.Remove(task.File)
	db, err := sql.Open("sqlite3", task.File)
	if err != nil {
		return err
	}

	err = optimizeConnection(db)
	if err != nil {
		db.Close()
		return err
	}

	for _, stmt := range []string{
		"create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);",
		"create table if not exists metadata (name text, value text);",
		"create unique index name on metadata (name);",
		"create unique index tile_index on tiles(zoom_level, tile_column, tile_row);",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return errors.Wrapf(err, "setup %s", task.File)
		}
	}

	// Load metadata.
	for name, value := range task.MetaItems() {
		_, err := db.Exec("insert into metadata (name, value) values (?, ?)", name, value)
		if err != nil {
			db.Close()
			return err
		}
	}

	task.db = db //保存任务的库连接
	return nil
}

//Abort 取消任务
func (task *Task) Abort() {
	select {
	case task.abort <- struct{}{}:
	default:
	}
}

//savePipe 保存瓦片管道
func (task *Task) savePipe() {
	for tile := range task.savingpipe {
		if task.db != nil {
			if err := saveToMBTile(tile, task.db); err != nil {
				log.Errorf("save %v tile to mbtiles db error ~ %s", tile.T, err)
			}
			continue
		}
		if err := saveToFiles(tile, task.File, task.TileMap); err != nil {
			log.Errorf("create %v tile file error ~ %s", tile.T, err)
		}
	}
}

//tileRenderer 瓦片渲染器
func (task *Task) tileRenderer(ctx context.Context, mt maptile.Tile) {
	defer task.wg.Done()
	defer func() {
		<-task.workers
	}()
	start := time.Now()
	t, err := rtile.FromMapTile(mt, task.TileMap.Size)
	if err != nil {
		log.Errorf("invalid tile %v ~ %s", mt, err)
		return
	}
	job := renderer.Job{Tile: t, Theme: task.theme, TextScale: task.textScale, HasAlpha: task.hasAlpha}
	res, err := task.renderer.RenderTile(ctx, job)
	if err != nil {
		if errors.Cause(err) != context.Canceled {
			log.Errorf("render %v tile error ~ %s", mt, err)
		}
		return
	}
	task.tileSet.Add(job)

	var buf bytes.Buffer
	err = res.Canvas.EncodePNG(&buf)
	if c, ok := res.Canvas.(io.Closer); ok {
		c.Close()
	}
	if err != nil {
		log.Errorf("encode %v tile error ~ %s", mt, err)
		return
	}
	atomic.AddInt64(&task.Current, 1)
	task.savingpipe <- Tile{T: mt, C: buf.Bytes()}
	secs := time.Since(start).Seconds()
	log.Debugf("tile %v, %.3fs, %.2f kb, %d labels", mt, secs, float32(buf.Len())/1024.0, len(res.MustDraw)+len(res.Labels))
}

//renderLayer 渲染指定层级
func (task *Task) renderLayer(ctx context.Context, layer Layer) {
	bar := pb.New64(layer.Count).Prefix(fmt.Sprintf("Zoom %d : ", layer.Zoom)).Postfix("\n")
	bar.Start()

loop:
	for _, tile := range layer.tiles {
		select {
		case task.workers <- tile:
			bar.Increment()
			task.Bar.Increment()
			task.wg.Add(1)
			go task.tileRenderer(ctx, tile)
		case <-ctx.Done():
			break loop
		}
	}
	task.wg.Wait()
	bar.FinishPrint(fmt.Sprintf("Task %s zoom %d finished ~", task.ID, layer.Zoom))
}

//Render 开启渲染任务
func (task *Task) Render() error {
	task.Bar = pb.New64(task.Total).Prefix("Task : ")
	task.Bar.Start()
	if task.outformat == "mbtiles" {
		if err := task.SetupMBTileTables(); err != nil {
			return errors.Wrap(err, "setup mbtiles")
		}
	} else if task.File == "" {
		task.File = filepath.Join(viper.GetString("output.directory"), task.ID+"."+task.TileMap.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	select {
	case <-task.abort:
		log.Infof("task %s got canceled before start.", task.ID)
		cancel()
	default:
	}
	go func() {
		select {
		case <-task.abort:
			log.Infof("task %s got canceled.", task.ID)
			cancel()
		case <-ctx.Done():
		}
	}()

	saved := make(chan struct{})
	go func() {
		task.savePipe()
		close(saved)
	}()
	for _, layer := range task.Layers {
		task.renderLayer(ctx, layer)
	}
	close(task.savingpipe)
	<-saved
	aborted := ctx.Err()

	if task.db != nil {
		if err := optimizeDatabase(task.db); err != nil {
			log.Warnf("optimize %s error ~ %s", task.File, err)
		}
		task.db.Close()
		task.db = nil
	}
	task.Bar.FinishPrint(fmt.Sprintf("task %s finished, %d/%d tiles ~", task.ID, atomic.LoadInt64(&task.Current), task.Total))
	if aborted != nil {
		return errors.Wrapf(aborted, "task %s", task.ID)
	}
	return nil
}

//Close 释放渲染资源
func (task *Task) Close() {
	task.renderer.Close()
}
