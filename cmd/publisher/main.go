package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type locationMessage struct {
	VehicleID   string  `json:"vehicle_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Speed       float64 `json:"speed"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Each vehicle drives west to east along the gantry latitude, passing through its circle.
const (
	gantryLat = -6.2088
	gantryLon = 106.8456
	startLon  = gantryLon - 0.003
	endLon    = gantryLon + 0.003
	stepLon   = 0.0002
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomVehicleID() string {
	letter := string(charset[rand.Intn(26)])
	digits := fmt.Sprintf("%04d", rand.Intn(10000))
	suffix := string([]byte{charset[rand.Intn(26)], charset[rand.Intn(26)], charset[rand.Intn(26)]})
	return letter + digits + suffix
}

type vehicle struct {
	id  string
	lon float64
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <interval_ms> [vehicles]\n", os.Args[0])
		os.Exit(1)
	}

	intervalMs, err := strconv.Atoi(os.Args[1])
	if err != nil || intervalMs <= 0 {
		fmt.Fprintf(os.Stderr, "error: interval must be a positive integer\n")
		os.Exit(1)
	}

	count := 5
	if len(os.Args) > 2 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			count = n
		}
	}

	broker := "tcp://localhost:1883"
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		broker = v
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("tollgate-simulator")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("mqtt connect: %v", token.Error())
	}
	defer client.Disconnect(250)

	fleet := make([]*vehicle, count)
	for i := range fleet {
		// Stagger starting points so vehicles cross at different times.
		fleet[i] = &vehicle{
			id:  randomVehicleID(),
			lon: startLon + rand.Float64()*(endLon-startLon),
		}
	}

	log.Printf("connected to %s, publishing every %dms for %d vehicles", broker, intervalMs, count)

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		for _, v := range fleet {
			v.lon += stepLon
			if v.lon > endLon {
				v.lon = startLon
			}

			msg := locationMessage{
				VehicleID: v.id,
				// up to ~5m of GPS jitter across the road
				Latitude:    gantryLat + (rand.Float64()-0.5)*0.00009,
				Longitude:   v.lon,
				Speed:       60 + rand.Float64()*20,
				TimestampMs: now.UnixMilli(),
			}

			payload, _ := json.Marshal(msg)
			topic := fmt.Sprintf("/fleet/vehicle/%s/location", v.id)

			token := client.Publish(topic, 1, false, payload)
			token.Wait()
		}
		log.Printf("published %d fixes", len(fleet))
	}
}
