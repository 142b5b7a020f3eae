package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/evalphobia/logrus_sentry"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/gorilla/csrf"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/matematik7/travelmap-go/geocode"
	"github.com/matematik7/travelmap-go/images"
	"github.com/matematik7/travelmap-go/notify"
	"github.com/matematik7/travelmap-go/session"
	"github.com/matematik7/travelmap-go/store"
	"github.com/matematik7/travelmap-go/web"
)

func main() {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("port", 3000)
	port := viper.GetInt("port")

	viper.SetDefault("host", "localhost")
	host := viper.GetString("host")

	viper.SetDefault("prod", false)
	isProd := viper.GetBool("prod")

	viper.SetDefault("cookie_key", "SESSION_SECRET")
	cookieKey := viper.GetString("cookie_key")

	viper.SetDefault("csrf_key", "CSRF_SECRET_32_BYTES_LONG_______")
	csrfKey := viper.GetString("csrf_key")

	viper.SetDefault("store_url", "http://localhost:8000")
	storeURL := viper.GetString("store_url")

	log := logrus.New()
	if dsn := viper.GetString("sentry_dsn"); dsn != "" {
		hook, err := logrus_sentry.NewSentryHook(dsn, []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
		})
		if err != nil {
			log.Fatalf("could not create sentry hook: %v", err)
		}
		log.Hooks.Add(hook)
	}

	storeClient := store.New(storeURL)

	viper.SetDefault("geocode_provider", "opencage")
	var geocoder geocode.Geocoder
	switch provider := viper.GetString("geocode_provider"); provider {
	case "opencage":
		geocoder = geocode.NewOpenCage(viper.GetString("opencage_apikey"))
	case "google":
		g, err := geocode.NewGoogle(viper.GetString("GMAP_SERVER_KEY"))
		if err != nil {
			log.Fatalf("could not create geocoder: %v", err)
		}
		geocoder = g
	default:
		log.Fatalf("unknown geocode provider: %s", provider)
	}

	viper.SetDefault("images_storage", "store")
	var imageStorage images.Storage
	switch backend := viper.GetString("images_storage"); backend {
	case "store":
		imageStorage = images.NewRemote(storeClient)
	case "s3":
		s3, err := images.NewS3(viper.GetString("s3_bucket"), viper.GetString("s3_region"))
		if err != nil {
			log.Fatalf("could not create image storage: %v", err)
		}
		imageStorage = s3
	default:
		log.Fatalf("unknown images storage: %s", backend)
	}

	viper.SetDefault("subdomain", "travels")
	var notifier session.Notifier
	if apiKey := viper.GetString("mailgun_apikey"); apiKey != "" {
		notifier = notify.New(
			viper.GetString("mailgun_domain"),
			apiKey,
			viper.GetString("mailgun_publicapikey"),
			viper.GetString("subdomain"),
			viper.GetString("mailgun_list"),
			log,
		)
	}

	viper.SetDefault("place_only", false)
	viper.SetDefault("place_only_delete", true)
	opts := session.Options{
		PlaceOnly:       viper.GetBool("place_only"),
		PlaceOnlyDelete: viper.GetBool("place_only_delete"),
		Images:          imageStorage,
		Notifier:        notifier,
		Log:             log,
	}

	factory := func() *session.Engine {
		return session.New(storeClient, geocoder, opts)
	}

	cookieStore := sessions.NewCookieStore([]byte(cookieKey))
	cookieStore.MaxAge(60 * 60 * 24 * 30)
	cookieStore.Options.Path = "/"
	cookieStore.Options.HttpOnly = true
	cookieStore.Options.Secure = isProd

	server := web.New(factory, cookieStore, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(csrf.Protect([]byte(csrfKey), csrf.Secure(isProd), csrf.Path("/")))

	r.Mount("/", server.ServeMux())

	log.Infof("listening on %s:%d", host, port)
	if err := http.ListenAndServe(fmt.Sprintf("%s:%d", host, port), r); err != nil {
		log.Fatalln(err)
	}
}
