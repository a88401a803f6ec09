package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/victorjacobs/go-brink/bridge"
	"github.com/victorjacobs/go-brink/config"
	"github.com/victorjacobs/go-brink/routes"
)

var configPath = flag.String("config", "brink.json", "path to the JSON configuration file")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfiguration(*configPath)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
		return
	}

	bridge, err := bridge.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Error setting up bridge: %v", err)
		return
	}

	mqttOpts := cfg.Mqtt.ClientOptions()
	// Configure MQTT subscriptions in the ConnectHandler to make sure they are set up after reconnect
	mqttOpts.SetOnConnectHandler(func(client mqtt.Client) {
		bridge.SubscribeToCommands(client)
	})

	mqttClient := mqtt.NewClient(mqttOpts)
	if t := mqttClient.Connect(); t.Wait() && t.Error() != nil {
		log.Fatalf("MQTT connection error: %v", t.Error())
	}

	if err := bridge.RegisterEntities(mqttClient); err != nil {
		log.Fatalf("Error registering entities: %v", err)
	}

	go loopSafely("poll", func() {
		if err := bridge.Poll(context.Background(), mqttClient); err != nil {
			log.Printf("Poll failed: %v", err)
		}

		time.Sleep(cfg.PollInterval())
	})

	router := routes.New(bridge)

	go loopSafely("http", func() {
		if err := http.ListenAndServe(cfg.ListenAddress, router); err != nil {
			log.Printf("HTTP server failed: %v", err)
			time.Sleep(time.Second)
		}
	})

	select {}
}
