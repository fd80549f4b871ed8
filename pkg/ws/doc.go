// Package ws предоставляет одноразовый WebSocket клиент поверх mTLS
// для smoke-проверки сервера:
//   - Загрузка клиентского сертификата, ключа и CA с диска (или из окружения)
//   - Проверка сертификата сервера только по переданному CA
//   - Отправка одного текстового фрейма сразу после открытия
//   - Логирование каждого входящего сообщения без изменений
//   - Явная машина состояний Idle -> Connecting -> Open -> Closed/Failed
//
// # Загрузка учётных данных
//
//	bundle, err := ws.LoadBundle(ws.CredentialPaths{
//	    BaseDir:  "/etc/wssmoke",
//	    CertFile: "client.crt",
//	    KeyFile:  "client.key",
//	    CAFile:   "ca.crt",
//	})
//
// Ошибка загрузки имеет категорию credential_load и фатальна:
// соединение без полного bundle не устанавливается.
//
// # Клиент
//
//	cfg := ws.DefaultConfig("wss://server.test.com:9000", bundle)
//	client, err := ws.NewClient(cfg)
//	client.Start(ctx)
//	<-client.Done()
//	client.Trace() // [idle connecting open closed]
//
// # Ошибки
//
// Ошибки соединения не возвращаются из Start, а логируются и доступны через
// Err и Handlers.OnError:
//
//	tls_validation  сертификат сервера не подписан CA
//	tls_handshake   alert от партнёра или отказ в upgrade
//	network         обрыв соединения, отказ в подключении
//	protocol        ошибка протокола WebSocket в открытом соединении
//
// Повторных попыток нет: Closed и Failed конечные.
package ws
