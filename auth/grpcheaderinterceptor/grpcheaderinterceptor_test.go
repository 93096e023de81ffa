package grpcheaderinterceptor

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestExtract(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		TokenHeader, "abc",
		ExpiresHeader, "123",
		TokenHeader, "ignored",
	))
	creds, ok := FromContext(extract(ctx, "/google.bytestream.ByteStream/Read"))
	if !ok {
		t.Fatal("no credentials in context")
	}
	if creds != (Credentials{Token: "abc", Expires: "123"}) {
		t.Errorf("unexpected credentials %+v", creds)
	}
}

func TestExtractWithoutMetadata(t *testing.T) {
	creds, ok := FromContext(extract(context.Background(), "/m"))
	if !ok {
		t.Fatal("no credentials in context")
	}
	if creds != (Credentials{}) {
		t.Errorf("unexpected credentials %+v", creds)
	}
}

func TestUnaryExtract(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(TokenHeader, "tok"))
	var seen Credentials
	_, err := unaryExtract(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/m"}, func(ctx context.Context, req any) (any, error) {
		seen, _ = FromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen.Token != "tok" {
		t.Errorf("handler saw %+v", seen)
	}
}

func TestAttach(t *testing.T) {
	i := &attachingInterceptor{creds: Credentials{Token: "tok", Expires: "42"}}
	md, ok := metadata.FromOutgoingContext(i.attach(context.Background()))
	if !ok {
		t.Fatal("no outgoing metadata")
	}
	if got := md.Get(TokenHeader); len(got) != 1 || got[0] != "tok" {
		t.Errorf("token header = %v", got)
	}
	if got := md.Get(ExpiresHeader); len(got) != 1 || got[0] != "42" {
		t.Errorf("expires header = %v", got)
	}

	empty := &attachingInterceptor{}
	if _, ok := metadata.FromOutgoingContext(empty.attach(context.Background())); ok {
		t.Error("empty credentials should not add metadata")
	}
}
