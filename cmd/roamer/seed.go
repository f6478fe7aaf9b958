package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roamerhq/roamer/pkg/db/models"
	"github.com/roamerhq/roamer/pkg/flags"
	"github.com/roamerhq/roamer/pkg/store"
)

type SeedFlags struct {
	DBFlags      *flags.PostgresFlags
	InitDatabase bool
	File         string
}

func NewSeedFlags() *SeedFlags {
	return &SeedFlags{
		DBFlags: flags.NewPostgresDatabaseFlags(),
	}
}

func (f *SeedFlags) BindFlags(fs *pflag.FlagSet) {
	f.DBFlags.BindFlags(fs)
	fs.BoolVar(&f.InitDatabase, "init-database", false, "Migrate the DB schema before seeding")
	fs.StringVar(&f.File, "file", "", "JSON file of points of interest to load (defaults to the built-in catalog)")
}

// seedPOI mirrors the catalog file format.
type seedPOI struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	RegionCode  string   `json:"region_code"`
	Tags        []string `json:"tags"`
	Lodging     bool     `json:"lodging"`
}

func NewSeedCommand() *cobra.Command {
	f := NewSeedFlags()

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the point-of-interest catalog",
		Long: `Load points of interest into the database. With no --file the built-in
California catalog is loaded. The command can be re-run; duplicate rows are
harmless for retrieval but a fresh database is cleanest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbc, err := f.DBFlags.GetDBClient()
			if err != nil {
				return errors.WithMessage(err, "could not connect to database")
			}
			if f.InitDatabase {
				if err := dbc.UpdateSchema(); err != nil {
					return errors.WithMessage(err, "couldn't migrate DB schema")
				}
			}

			catalog := defaultCatalog
			if f.File != "" {
				data, err := os.ReadFile(f.File)
				if err != nil {
					return errors.WithMessage(err, "could not read catalog file")
				}
				catalog = nil
				if err := json.Unmarshal(data, &catalog); err != nil {
					return errors.WithMessage(err, "could not parse catalog file")
				}
			}

			rows := make([]models.PointOfInterest, 0, len(catalog))
			for _, poi := range catalog {
				rows = append(rows, models.PointOfInterest{
					Name:        poi.Name,
					Description: poi.Description,
					RegionCode:  poi.RegionCode,
					Tags:        pq.StringArray(poi.Tags),
					Lodging:     poi.Lodging,
				})
			}

			if err := store.New(dbc).SeedPOIs(context.Background(), rows); err != nil {
				return errors.WithMessage(err, "could not seed points of interest")
			}

			log.Infof("seeded %d points of interest", len(rows))
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

var defaultCatalog = []seedPOI{
	{Name: "Yosemite Valley", Description: "Granite cliffs, waterfalls, and the classic Sierra trailheads.", RegionCode: "US-CA", Tags: []string{"HIKING", "TREKKING", "CAMPING"}},
	{Name: "Half Dome Trail", Description: "Strenuous cable-assisted ascent with sweeping valley views.", RegionCode: "US-CA", Tags: []string{"TREKKING", "HIKING"}},
	{Name: "Glacier Point", Description: "Road-accessible overlook of Yosemite Valley and the high country.", RegionCode: "US-CA", Tags: []string{"ROAD_TRIP", "HIKING"}},
	{Name: "Sequoia National Park", Description: "Giant sequoia groves including the General Sherman tree.", RegionCode: "US-CA", Tags: []string{"HIKING", "WILDLIFE", "CAMPING"}},
	{Name: "Joshua Tree National Park", Description: "Desert landscape of twisted trees and boulder fields.", RegionCode: "US-CA", Tags: []string{"CAMPING", "HIKING", "ROAD_TRIP"}},
	{Name: "Big Sur Coastline", Description: "Highway 1 cliffs, redwoods, and coastal pullouts.", RegionCode: "US-CA", Tags: []string{"ROAD_TRIP", "BEACH"}},
	{Name: "Point Lobos State Reserve", Description: "Sea otters, harbor seals, and coastal trails near Carmel.", RegionCode: "US-CA", Tags: []string{"WILDLIFE", "HIKING", "BEACH"}},
	{Name: "Lake Tahoe East Shore", Description: "Alpine lake beaches and granite-backed swimming coves.", RegionCode: "US-CA", Tags: []string{"BEACH", "HIKING", "CAMPING"}},
	{Name: "Mount Whitney Trail", Description: "Highest summit in the contiguous US; permit required.", RegionCode: "US-CA", Tags: []string{"TREKKING"}},
	{Name: "Lassen Volcanic National Park", Description: "Hydrothermal areas, cinder cones, and quiet backcountry.", RegionCode: "US-CA", Tags: []string{"HIKING", "CAMPING", "WILDLIFE"}},
	{Name: "Death Valley Dunes", Description: "Mesquite Flat sand dunes and badland overlooks.", RegionCode: "US-CA", Tags: []string{"ROAD_TRIP", "HIKING"}},
	{Name: "Monterey Bay Aquarium", Description: "World-class aquarium on Cannery Row.", RegionCode: "US-CA", Tags: []string{"WILDLIFE", "EVENTS"}},
	{Name: "Santa Cruz Beach Boardwalk", Description: "Classic seaside amusement park and beach.", RegionCode: "US-CA", Tags: []string{"BEACH", "EVENTS"}},
	{Name: "Redwood National and State Parks", Description: "Old-growth coast redwoods and fern canyons.", RegionCode: "US-CA", Tags: []string{"HIKING", "WILDLIFE", "CAMPING"}},
	{Name: "Upper Pines Campground", Description: "Reservable valley-floor campground open year round.", RegionCode: "US-CA", Tags: []string{"CAMPING"}, Lodging: true},
	{Name: "Curry Village Cabins", Description: "Canvas and wood cabins below Glacier Point.", RegionCode: "US-CA", Tags: []string{"CABIN"}, Lodging: true},
	{Name: "Tahoe Valley RV Resort", Description: "Full-hookup RV park near the south shore.", RegionCode: "US-CA", Tags: []string{"RV_PARK"}, Lodging: true},
	{Name: "Big Sur Lodge", Description: "Lodge rooms inside Pfeiffer Big Sur State Park.", RegionCode: "US-CA", Tags: []string{"HOTEL"}, Lodging: true},
}
